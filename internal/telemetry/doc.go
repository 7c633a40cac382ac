// Package telemetry produces the device's synthetic readings.
//
// Run publishes a fixed number of readings, {"temperature": 12*i} for
// i = 1..N, one per interval. Wait then keeps the process alive for a
// fixed time so downlinks can arrive.
//
//	err := telemetry.Run(ctx, session, telemetry.Options{
//	    NumMessages: 100,
//	    Interval:    time.Second,
//	    Logger:      log,
//	})
package telemetry
