// Package engine implements the correlation loop of genrelay.
//
// The Engine is the single consumer of every job lifecycle event. Front-ends
// submit requests, backend adapters report Started/Progress/Finished/Failed,
// and the loop correlates each notification back to the request that caused
// it before handing the outcome to a Deliverer.
//
// # Core Responsibilities
//
// Admission:
//   - Per-submitter cap through core.Gate
//   - Rejection notices naming the backend's noun ("images", "prompts")
//
// Correlation:
//   - JobHandle table (a ttlcache owned by the loop goroutine)
//   - Handle-keyed events resolve to the Identifier recorded at Started
//   - Unknown handles are logged with core.ErrNotInQueue and dropped
//
// Detached work:
//   - Backend dispatch, asset download and delivery run on tracked
//     goroutines; Run waits for them on shutdown
//
// Timeout sweep:
//   - Jobs without a terminal event for Config.JobTimeout are failed and
//     their slot released
//
// # Usage
//
//	eng, err := engine.New(func(o *engine.Options) {
//	    o.Deliverer = delivery.NewStage(sender)
//	})
//	if err != nil {
//	    return err
//	}
//	eng.Register(textgen.New("ollama", ollama.NewModel(url)))
//	go eng.Run(ctx)
//	eng.Submit(id, "ollama", "why is the sky blue?")
//
// # Extensibility
//
// Callbacks hook into admission (CallbackBeforeDispatch may rewrite or veto a
// prompt), terminal states and correlation misses.
package engine
