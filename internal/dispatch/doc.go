// Package dispatch drives outbound invitation delivery.
//
// It decides when, to whom, and through which sender account queued messages
// go out. The loop paces sends to look human (randomized delays, occasional
// breaks, hour-of-day avoidance), enforces per-account daily quotas and
// hourly/burst ceilings, and watches send failures for ban signals,
// escalating from pause to a hard stop on repeated hits.
//
// One Dispatcher runs at most one campaign at a time. Control operations
// (Start/Pause/Resume/Stop) only flip flags that the loop observes between
// sends, never mid-send.
package dispatch
