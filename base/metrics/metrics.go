package metrics

const (
	BusEventsDroppedH   = "The total number of context events dropped by the application bus"
	BusEventsDroppedN   = "timeservice_bus_events_dropped"
	BusEventsPublishedH = "The total number of context events re-published onto the application bus"
	BusEventsPublishedN = "timeservice_bus_events_published"

	FeedCmdErrorsH          = "The total number of control commands rejected by the feed server"
	FeedCmdErrorsN          = "timeservice_feed_cmd_errors"
	FeedCmdsAcceptedH       = "The total number of control commands accepted by the feed server"
	FeedCmdsAcceptedN       = "timeservice_feed_cmds_accepted"
	FeedFramesSentH         = "The total number of event frames pushed to feed sessions"
	FeedFramesSentN         = "timeservice_feed_frames_sent"
	FeedSessionsActiveH     = "The current number of open feed sessions"
	FeedSessionsActiveN     = "timeservice_feed_sessions_active"
	FeedSessionsOpenedH     = "The total number of feed sessions opened"
	FeedSessionsOpenedN     = "timeservice_feed_sessions_opened"
	FeedTickIntervalMedianH = "The median interval between clock ticks observed by the feed server, in milliseconds"
	FeedTickIntervalMedianN = "timeservice_feed_tick_interval_median"

	TimeBoundsEventsH     = "The total number of bounds change events emitted by the global context"
	TimeBoundsEventsN     = "timeservice_time_bounds_events"
	TimeClockEventsH      = "The total number of clock change events emitted by the global context"
	TimeClockEventsN      = "timeservice_time_clock_events"
	TimeModeEventsH       = "The total number of mode change events emitted by the global context"
	TimeModeEventsN       = "timeservice_time_mode_events"
	TimeOverridesActiveH  = "The current number of independent time contexts holding an override"
	TimeOverridesActiveN  = "timeservice_time_overrides_active"
	TimeSystemEventsH     = "The total number of time system change events emitted by the global context"
	TimeSystemEventsN     = "timeservice_time_system_events"
	TimeTickEventsH       = "The total number of tick-driven bounds events emitted by the global context"
	TimeTickEventsN       = "timeservice_time_tick_events"
)
