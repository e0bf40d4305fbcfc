// Package dedupe makes retried requests idempotent using a time-based cache.
// A caller claims a key with Begin, then either stores its result with
// Complete or releases the key with Abandon, passing back the Claim it was
// given. Duplicates arriving while the first request runs see InFlight;
// duplicates arriving after it finished get the stored result back.
// In-flight keys are never evicted to make room for new ones.
package dedupe
