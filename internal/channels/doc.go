// Package channels fans traffic transitions and network samples out to
// asynchronous consumers over typed, buffered Go channels.
//
// Producers never block: when a buffer is full the message is dropped and a
// warning is logged, so a slow consumer cannot stall a light transition.
//
//	events := channels.NewEventChannels(cfg, logger)
//	go events.Dispatch(ctx, hub, writer)
//	defer events.Close()
package channels
