package pipz

import "github.com/zoobzio/capitan"

// Signal constants for pipz connector events.
// Signals follow the pattern: <connector-type>.<event>.
const (
	// CircuitBreaker signals.
	SignalCircuitBreakerOpened   capitan.Signal = "circuitbreaker.opened"
	SignalCircuitBreakerClosed   capitan.Signal = "circuitbreaker.closed"
	SignalCircuitBreakerHalfOpen capitan.Signal = "circuitbreaker.half-open"
	SignalCircuitBreakerRejected capitan.Signal = "circuitbreaker.rejected"

	// RateLimiter signals.
	SignalRateLimiterThrottled capitan.Signal = "ratelimiter.throttled"
	SignalRateLimiterDropped   capitan.Signal = "ratelimiter.dropped"
	SignalRateLimiterAllowed   capitan.Signal = "ratelimiter.allowed"

	// Retry signals.
	SignalRetryAttemptStart capitan.Signal = "retry.attempt-start"
	SignalRetryAttemptFail  capitan.Signal = "retry.attempt-fail"
	SignalRetryExhausted    capitan.Signal = "retry.exhausted"

	// Fallback signals.
	SignalFallbackAttempt capitan.Signal = "fallback.attempt"
	SignalFallbackFailed  capitan.Signal = "fallback.failed"

	// Timeout signals.
	SignalTimeoutTriggered capitan.Signal = "timeout.triggered"

	// Sequence signals.
	SignalSequenceCompleted capitan.Signal = "sequence.completed"

	// Lock signals.
	SignalLockAcquired capitan.Signal = "lock.acquired"
	SignalLockReleased capitan.Signal = "lock.released"
	SignalLockTimeout  capitan.Signal = "lock.timeout"

	// RWLock signals.
	SignalRWLockReadAcquired  capitan.Signal = "rwlock.read-acquired"
	SignalRWLockWriteAcquired capitan.Signal = "rwlock.write-acquired"
	SignalRWLockReleased      capitan.Signal = "rwlock.released"

	// Semaphore signals.
	SignalSemaphoreAcquired  capitan.Signal = "semaphore.acquired"
	SignalSemaphoreReleased  capitan.Signal = "semaphore.released"
	SignalSemaphoreSaturated capitan.Signal = "semaphore.saturated"
	SignalSemaphoreWaiting   capitan.Signal = "semaphore.waiting"

	// Barrier signals.
	SignalBarrierTripped capitan.Signal = "barrier.tripped"
	SignalBarrierBroken  capitan.Signal = "barrier.broken"

	// CountdownLatch signals.
	SignalCountdownLatchDecremented capitan.Signal = "countdownlatch.decremented"
	SignalCountdownLatchComplete    capitan.Signal = "countdownlatch.complete"

	// Monitor signals.
	SignalMonitorNotify    capitan.Signal = "monitor.notify"
	SignalMonitorNotifyAll capitan.Signal = "monitor.notify-all"

	// Bulkhead signals.
	SignalBulkheadAcquired capitan.Signal = "bulkhead.acquired"
	SignalBulkheadRejected capitan.Signal = "bulkhead.rejected"

	// Queue signals.
	SignalQueueEnqueued          capitan.Signal = "queue.enqueued"
	SignalQueueDequeued          capitan.Signal = "queue.dequeued"
	SignalQueueFull              capitan.Signal = "queue.full"
	SignalQueueStarvationBoosted capitan.Signal = "queue.starvation-boosted"
)

// Common field keys using capitan primitive types.
// All keys use primitive types to avoid custom struct serialization.
var (
	// Common fields.
	FieldName      = capitan.NewStringKey("name")       // Connector instance name
	FieldError     = capitan.NewStringKey("error")      // Error message
	FieldTimestamp = capitan.NewFloat64Key("timestamp") // Unix timestamp

	// CircuitBreaker fields.
	FieldState            = capitan.NewStringKey("state")           // Circuit state: closed/open/half-open
	FieldFailures         = capitan.NewIntKey("failures")           // Current failure count
	FieldSuccesses        = capitan.NewIntKey("successes")          // Current success count
	FieldFailureThreshold = capitan.NewIntKey("failure_threshold")  // Threshold to open
	FieldSuccessThreshold = capitan.NewIntKey("success_threshold")  // Threshold to close from half-open
	FieldResetTimeout     = capitan.NewFloat64Key("reset_timeout")  // Reset timeout in seconds
	FieldGeneration       = capitan.NewIntKey("generation")         // Circuit generation number
	FieldLastFailTime     = capitan.NewFloat64Key("last_fail_time") // Last failure timestamp

	// RateLimiter fields.
	FieldRate     = capitan.NewFloat64Key("rate")      // Requests per second
	FieldBurst    = capitan.NewIntKey("burst")         // Burst capacity
	FieldTokens   = capitan.NewFloat64Key("tokens")    // Current tokens
	FieldMode     = capitan.NewStringKey("mode")       // Mode: wait/drop
	FieldWaitTime = capitan.NewFloat64Key("wait_time") // Wait time in seconds

	// Retry fields.
	FieldAttempt     = capitan.NewIntKey("attempt")      // Current attempt number
	FieldMaxAttempts = capitan.NewIntKey("max_attempts") // Maximum attempts

	// Fallback fields.
	FieldProcessorIndex = capitan.NewIntKey("processor_index")   // Index of processor being tried
	FieldProcessorName  = capitan.NewStringKey("processor_name") // Name of processor being tried

	// Timeout fields.
	FieldDuration = capitan.NewFloat64Key("duration") // Timeout duration in seconds

	// Sequence fields.
	FieldProcessorCount = capitan.NewIntKey("processor_count") // Number of processors executed

	// Concurrency primitive fields.
	FieldQueueLength   = capitan.NewIntKey("queue_length")   // Waiters currently queued
	FieldAvailable     = capitan.NewIntKey("available")      // Available permits/slots
	FieldCapacity      = capitan.NewIntKey("capacity")       // Total permits/slots/parties
	FieldPosition      = capitan.NewIntKey("position")       // 1-based queue position of a new waiter
	FieldGenerationNum = capitan.NewIntKey("generation_num") // Barrier/cyclic generation counter
	FieldPriority      = capitan.NewIntKey("priority")       // Effective priority of a queued item
	FieldActiveCount   = capitan.NewIntKey("active_count")   // Currently in-flight executions
)
