package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Model = (*MockModel)(nil)

func TestMockModel(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddResponse("ping", "pong")
	m.AddError("boom", errors.New("exploded"))

	resp, err := m.Generate(context.Background(), Request{Prompt: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Text)

	resp, err = m.Generate(context.Background(), Request{Prompt: "other"})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", resp.Text)

	_, err = m.Generate(context.Background(), Request{Prompt: "boom"})
	assert.EqualError(t, err, "exploded")

	_, err = m.Generate(context.Background(), Request{Prompt: " "})
	assert.Error(t, err)

	assert.Len(t, m.Calls(), 4)
}

func TestMockModel_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMockModel("m", "mock").Generate(ctx, Request{Prompt: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}
