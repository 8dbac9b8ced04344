package core

// ArtifactStore defines the interface for generated asset persistence.
// Implementations should be thread-safe and scope artifacts by conversation.
// Short method names (Save/Get/List/Delete) mirror the other store interfaces.
type ArtifactStore interface {
	Save(conversationID int64, artifactID string, data []byte) error
	Get(conversationID int64, artifactID string) ([]byte, error)
	List(conversationID int64) ([]string, error)
	Delete(conversationID int64, artifactID string) error
}
