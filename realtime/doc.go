// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package realtime pushes poll events to the members watching a meeting.

A Hub keeps one set of subscriptions per meeting and fans each event out as
JSON. Subscribers that fall SendBuffer events behind are dropped.

	hub := realtime.NewHub(m)
	go hub.Run(ctx)

ServeMeeting upgrades a request to a WebSocket and streams the meeting's
events until the client goes away or the hub stops.

With several server instances, RedisPublisher publishes events to a Redis
channel and Relay feeds every message on it into the local hub:

	rp, err := realtime.NewRedisPublisher(ctx, cfg.RedisURL, hub)
	go rp.Relay(ctx)

Both Hub and RedisPublisher satisfy Publisher.
*/
package realtime
