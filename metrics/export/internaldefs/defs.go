package internaldefs

import (
	"github.com/webshop/shopauth"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   shopauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   shopauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: shopauth.MetricLoginSuccess, Name: "shopauth_login_success_total", Help: "Successful login attempts."},
	{ID: shopauth.MetricLoginFailure, Name: "shopauth_login_failure_total", Help: "Login attempts rejected as invalid credentials."},
	{ID: shopauth.MetricLoginLockedOut, Name: "shopauth_login_locked_out_total", Help: "Login attempts refused because the identity was locked."},
	{ID: shopauth.MetricLockoutTriggered, Name: "shopauth_lockout_triggered_total", Help: "Identities moved into the locked state."},
	{ID: shopauth.MetricLockoutBackendError, Name: "shopauth_lockout_backend_error_total", Help: "Lockout store failures."},
	{ID: shopauth.MetricPasswordChangeSuccess, Name: "shopauth_password_change_success_total", Help: "Successful password changes."},
	{ID: shopauth.MetricPasswordChangeInvalidOld, Name: "shopauth_password_change_invalid_old_total", Help: "Password change attempts with invalid old password."},
	{ID: shopauth.MetricPasswordChangeMismatch, Name: "shopauth_password_change_mismatch_total", Help: "Password change attempts whose confirmation did not match."},
	{ID: shopauth.MetricPasswordChangePolicy, Name: "shopauth_password_change_policy_total", Help: "Password change attempts rejected by the length policy."},
	{ID: shopauth.MetricPasswordChangeReuseRejected, Name: "shopauth_password_change_reuse_rejected_total", Help: "Password change attempts rejected for reuse."},
	{ID: shopauth.MetricPasswordChangeLockedOut, Name: "shopauth_password_change_locked_out_total", Help: "Password change attempts refused because the identity was locked."},
	{ID: shopauth.MetricUserRegistered, Name: "shopauth_user_registered_total", Help: "Users created through registration."},
	{ID: shopauth.MetricRegistrationRejected, Name: "shopauth_registration_rejected_total", Help: "Registrations refused for invalid input or a taken username."},
	{ID: shopauth.MetricCredentialUpgraded, Name: "shopauth_credential_upgraded_total", Help: "Credentials re-hashed under current parameters."},
	{ID: shopauth.MetricTokenValidationFailure, Name: "shopauth_token_validation_failure_total", Help: "Session tokens rejected on validation."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: shopauth.MetricLoginLatency, Name: "shopauth_login_latency_seconds", Help: "Login latency histogram."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine
// keeps one more overflow bucket.
var HistogramUpperBounds = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// HistogramBounds are the le labels for every bucket including +Inf.
var HistogramBounds = []string{
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"+Inf",
}

// HistogramBoundSuffix are instrument-name-safe forms of HistogramBounds.
var HistogramBoundSuffix = []string{
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"inf",
}

// AuditDroppedName is the counter for events lost to dispatcher backpressure.
const AuditDroppedName = "shopauth_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// NormalizeBuckets copies raw into a fixed-size bucket array, zero-filling
// missing entries.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
