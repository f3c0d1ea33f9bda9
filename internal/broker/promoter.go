package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// promoteBatchSize bounds how many due delayed entries a single script
// invocation promotes.
const promoteBatchSize = 100

// promoteScript range-queries the delayed set by score, decodes each due
// member as a task record, appends it to its target stream, and removes
// it from the set — all inside one EVAL so two workers ticking at once
// can never both promote the same member.
//
// KEYS[1] = delayed set key
// ARGV[1] = cutoff score (now, ms)
// ARGV[2] = key prefix
// ARGV[3] = default priority name
// ARGV[4] = batch size
const promoteScriptSource = `
local scheduled = KEYS[1]
local cutoff = ARGV[1]
local prefix = ARGV[2]
local defaultPriority = ARGV[3]
local limit = tonumber(ARGV[4])

local due = redis.call('ZRANGEBYSCORE', scheduled, '-inf', cutoff, 'LIMIT', 0, limit)
local promoted = 0

for _, member in ipairs(due) do
  local ok, record = pcall(cjson.decode, member)
  if ok and record and record.taskName then
    local streamKey = record.streamKey
    if not streamKey or streamKey == '' then
      local priority = record.priority
      if not priority or priority == '' then
        priority = defaultPriority
      end
      streamKey = prefix .. ':' .. priority
    end

    local fields = {'taskName', record.taskName, 'payload', record.payload, 'enqueuedAt', record.enqueuedAt}
    if record.attempts and record.attempts ~= 0 then
      table.insert(fields, 'attempts')
      table.insert(fields, record.attempts)
    end
    if record.backoff and record.backoff ~= '' then
      table.insert(fields, 'backoff')
      table.insert(fields, record.backoff)
    end
    if record.timeout and record.timeout ~= 0 then
      table.insert(fields, 'timeout')
      table.insert(fields, record.timeout)
    end

    redis.call('XADD', streamKey, '*', unpack(fields))
    redis.call('ZREM', scheduled, member)
    promoted = promoted + 1
  else
    -- Malformed record: leave it in place rather than lose it silently.
  end
end

return promoted
`

// Promoter periodically moves due entries from the delayed set into their
// target streams via promoteScript.
type Promoter struct {
	redis  redis.UniversalClient
	cfg    Config
	keys   Keys
	script *script
	log    *slog.Logger
}

func NewPromoter(client redis.UniversalClient, cfg Config, logger *slog.Logger) *Promoter {
	cfg = cfg.WithDefaults()
	return &Promoter{
		redis:  client,
		cfg:    cfg,
		keys:   cfg.keys(),
		script: newScript(client, promoteScriptSource),
		log:    logger.With("component", "promoter"),
	}
}

// Run ticks at cfg.PromoteInterval until ctx is canceled.
func (p *Promoter) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Tick(ctx); err != nil {
				p.log.Warn("promote tick failed", "error", err)
			}
		}
	}
}

// Tick runs one promotion pass and returns the number of promoted entries.
func (p *Promoter) Tick(ctx context.Context) (int64, error) {
	cutoff := time.Now().UnixMilli()

	res, err := p.script.run(ctx,
		[]string{p.keys.Scheduled()},
		cutoff, p.keys.Prefix, string(PriorityDefault), promoteBatchSize,
	)
	if err != nil {
		return 0, err
	}

	switch v := res.(type) {
	case int64:
		return v, nil
	default:
		return 0, nil
	}
}
