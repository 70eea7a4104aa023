package trial

import "github.com/kailas-cloud/tuner/internal/db"

// All keys of one experiment share the {exp} hash tag, so the scripts below touch a
// single cluster slot even though trial keys are derived inside the script.

// insertScript appends a trial unless the experiment already holds max trials.
// KEYS: seq, pending. ARGV: max, trial key prefix, exp key, assignment, vector, created_at.
// Returns the new id, or -1 when the budget is spent.
var insertScript = &db.Script{
	Name: "trial_insert",
	Source: `
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= tonumber(ARGV[1]) then
  return -1
end
n = redis.call('INCR', KEYS[1])
redis.call('HSET', ARGV[2] .. n,
  'id', n, 'exp_key', ARGV[3], 'state', 'new',
  'assignment', ARGV[4], 'vector', ARGV[5], 'created_at', ARGV[6])
redis.call('RPUSH', KEYS[2], n)
return n
`,
}

// claimScript pops the oldest pending trial and marks it running.
// KEYS: pending. ARGV: trial key prefix, owner, started_at.
// Returns the claimed id, or -1 when nothing is pending.
var claimScript = &db.Script{
	Name: "trial_claim",
	Source: `
local id = redis.call('LPOP', KEYS[1])
if not id then
  return -1
end
redis.call('HSET', ARGV[1] .. id, 'state', 'running', 'owner', ARGV[2], 'started_at', ARGV[3])
return tonumber(id)
`,
}

// completeScript records the outcome of a running trial.
// KEYS: trial. ARGV: state, loss, error_kind, error, finished_at.
// Returns 1 on success, 0 when the trial is missing or not running.
var completeScript = &db.Script{
	Name: "trial_complete",
	Source: `
if redis.call('HGET', KEYS[1], 'state') ~= 'running' then
  return 0
end
redis.call('HSET', KEYS[1],
  'state', ARGV[1], 'loss', ARGV[2], 'error_kind', ARGV[3],
  'error', ARGV[4], 'finished_at', ARGV[5])
return 1
`,
}

// releaseScript hands a running trial back to the pending queue, ahead of newer trials.
// KEYS: trial, pending. ARGV: id.
// Returns 1 on success, 0 when the trial is missing or not running.
var releaseScript = &db.Script{
	Name: "trial_release",
	Source: `
if redis.call('HGET', KEYS[1], 'state') ~= 'running' then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'new', 'owner', '', 'started_at', '')
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`,
}
