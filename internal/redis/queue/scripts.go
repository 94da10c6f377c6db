package queue

import "github.com/go-redis/redis/v8"

// KEYS[1] job hash, KEYS[2] wait, KEYS[3] failed
// ARGV[1] id, ARGV[2] payload, ARGV[3] max attempts, ARGV[4] now ms
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  if redis.call('ZREM', KEYS[3], ARGV[1]) == 0 then
    return 0
  end
  redis.call('HDEL', KEYS[1], 'last_error', 'failed_at', 'stalled')
end
redis.call('HSET', KEYS[1], 'payload', ARGV[2], 'attempts', 0, 'max_attempts', ARGV[3], 'created_at', ARGV[4])
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

// KEYS[1] wait, KEYS[2] active, KEYS[3] delayed, KEYS[4] failed
// ARGV[1] job key prefix, ARGV[2] now ms, ARGV[3] lease ms, ARGV[4] max stalled
var reserveScript = redis.NewScript(`
local now = tonumber(ARGV[2])

local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now)
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[3], id)
  redis.call('RPUSH', KEYS[1], id)
end

local stalled = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
for _, id in ipairs(stalled) do
  local job = ARGV[1] .. id
  redis.call('ZREM', KEYS[2], id)
  if redis.call('HINCRBY', job, 'stalled', 1) > tonumber(ARGV[4]) then
    redis.call('HINCRBY', job, 'attempts', 1)
    redis.call('HSET', job, 'last_error', 'job stalled more than ' .. ARGV[4] .. ' times', 'failed_at', now)
    redis.call('ZADD', KEYS[4], now, id)
  else
    redis.call('RPUSH', KEYS[1], id)
  end
end

local id = redis.call('RPOP', KEYS[1])
if not id then
  return nil
end

local job = ARGV[1] .. id
redis.call('ZADD', KEYS[2], now + tonumber(ARGV[3]), id)
redis.call('HSET', job, 'reserved_at', now)
local token = redis.call('HINCRBY', job, 'lease_seq', 1)

return {id, redis.call('HGET', job, 'payload'), redis.call('HGET', job, 'attempts'), redis.call('HGET', job, 'max_attempts'), token}
`)

// KEYS[1] active, KEYS[2] completed counter, KEYS[3] job hash
// ARGV[1] id, ARGV[2] lease token
var completeScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) or redis.call('HGET', KEYS[3], 'lease_seq') ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[3])
redis.call('INCR', KEYS[2])
return 1
`)

// KEYS[1] active, KEYS[2] delayed, KEYS[3] failed, KEYS[4] job hash
// ARGV[1] id, ARGV[2] now ms, ARGV[3] delay ms, ARGV[4] error, ARGV[5] force final, ARGV[6] lease token
var failScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) or redis.call('HGET', KEYS[4], 'lease_seq') ~= ARGV[6] then
  return -1
end
redis.call('ZREM', KEYS[1], ARGV[1])

local attempts = redis.call('HINCRBY', KEYS[4], 'attempts', 1)
local max = tonumber(redis.call('HGET', KEYS[4], 'max_attempts') or '1')
redis.call('HSET', KEYS[4], 'last_error', ARGV[4], 'failed_at', ARGV[2])

if attempts >= max or ARGV[5] == '1' then
  redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
  return 0
end

redis.call('ZADD', KEYS[2], tonumber(ARGV[2]) + tonumber(ARGV[3]), ARGV[1])
return attempts
`)

// KEYS[1] failed, KEYS[2] wait, KEYS[3] job hash
// ARGV[1] id
var retryScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[3], 'attempts', 0)
redis.call('HDEL', KEYS[3], 'last_error', 'failed_at', 'stalled')
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)
