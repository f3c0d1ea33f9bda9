package broker

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

// script wraps a Lua script with its cached SHA, reloading and retrying
// once on a NOSCRIPT (not cached) response from the server.
type script struct {
	client redis.UniversalClient
	source string
	sha    string
}

func newScript(client redis.UniversalClient, source string) *script {
	return &script{client: client, source: source}
}

// load registers the script with the server via SCRIPT LOAD, populating
// its SHA. Safe to call again after a connection reset.
func (s *script) load(ctx context.Context) error {
	sha, err := s.client.ScriptLoad(ctx, s.source).Result()
	if err != nil {
		return wrapErr(KindTransport, "script_load", err)
	}
	s.sha = sha
	return nil
}

// run executes the script via EVALSHA. On NOSCRIPT it reloads and retries
// exactly once, per spec: "re-load and retry once; then surface."
func (s *script) run(ctx context.Context, keys []string, args ...interface{}) (interface{}, error) {
	if s.sha == "" {
		if err := s.load(ctx); err != nil {
			return nil, err
		}
	}

	res, err := s.client.EvalSha(ctx, s.sha, keys, args...).Result()
	if err == nil {
		return res, nil
	}
	if !isNoScript(err) {
		return nil, wrapErr(KindTransport, "evalsha", err)
	}

	if err := s.load(ctx); err != nil {
		return nil, wrapErr(KindScriptCacheMiss, "script_reload", err)
	}
	res, err = s.client.EvalSha(ctx, s.sha, keys, args...).Result()
	if err != nil {
		return nil, wrapErr(KindScriptCacheMiss, "evalsha_retry", err)
	}
	return res, nil
}

func isNoScript(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOSCRIPT")
}
