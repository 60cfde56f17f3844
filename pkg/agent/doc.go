// Agent follows a remote on behalf of one machine. Each cycle it takes the
// activation lock, re-reads the stored config, and unless paused compares the
// remote's fingerprint with the last one it activated. A changed remote is
// pulled into a fresh directory and activated; only a successful activation
// is recorded, so a failed one is retried on the next cycle. Between cycles
// the agent sleeps for a jittered interval that grows the longer the machine
// goes without a reconfiguration.
//
// The agent makes no decision for other machines. Every machine following the
// same remote acts on its own poll results.
package agent
