// Package retry provides exponential backoff retry for transient failures.
//
// Two presets are provided:
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay, jitter (broker connections)
//   - BindConfig(): 3 attempts, 20ms-200ms delay (UDP socket binds)
//
// Errors that retrying cannot fix, such as a port owned by another process or a
// privileged port, are wrapped with NonRetryable and returned on the first attempt:
//
//	err := retry.Do(ctx, retry.BindConfig(), func() error {
//	    conn, err := net.ListenUDP("udp", addr)
//	    if err != nil {
//	        if isPortInUse(err) {
//	            return retry.NonRetryable(err)
//	        }
//	        return err
//	    }
//	    ...
//	})
package retry
