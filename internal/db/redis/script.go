package redis

import (
	"context"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/tuner/internal/db"
)

// EvalInt runs a Lua script via EVALSHA, falling back to EVAL when the server has not
// cached it yet, and returns the integer reply.
func (s *Store) EvalInt(ctx context.Context, sc *db.Script, keys, args []string) (int64, error) {
	n, err := s.lua(sc).Exec(ctx, s.client, keys, args).AsInt64()
	if err != nil {
		return 0, &db.Error{Op: db.OpEval, Err: err}
	}
	return n, nil
}

func (s *Store) lua(sc *db.Script) *rueidis.Lua {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.scripts[sc.Name]
	if !ok {
		l = rueidis.NewLuaScript(sc.Source)
		s.scripts[sc.Name] = l
	}
	return l
}
