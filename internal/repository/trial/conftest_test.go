package trial

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"

	"github.com/kailas-cloud/tuner/internal/db"
)

// fakeRedis is an in-process stand-in for the consumer interface. It interprets the
// trial scripts by name with the same semantics as their Lua source.
type fakeRedis struct {
	mu     sync.Mutex
	kv     map[string]string
	hashes map[string]map[string]string
	lists  map[string][]string

	// err, when set, fails every call.
	err     error
	scripts []string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		kv:     make(map[string]string),
		hashes: make(map[string]map[string]string),
		lists:  make(map[string][]string),
	}
}

func (f *fakeRedis) Ping(_ context.Context) error { return f.err }

func (f *fakeRedis) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, &db.Error{Op: db.OpGet, Err: f.err}
	}
	v, ok := f.kv[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return []byte(v), nil
}

func (f *fakeRedis) HGetAll(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, &db.Error{Op: db.OpHGetAll, Err: f.err}
	}
	return f.copyHash(key), nil
}

func (f *fakeRedis) HGetAllMulti(_ context.Context, keys []string) ([]map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, &db.Error{Op: db.OpHGetAll, Err: f.err}
	}
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		out[i] = f.copyHash(k)
	}
	return out, nil
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return &db.Error{Op: db.OpDel, Err: f.err}
	}
	for _, k := range keys {
		delete(f.kv, k)
		delete(f.hashes, k)
		delete(f.lists, k)
	}
	return nil
}

func (f *fakeRedis) Scan(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, &db.Error{Op: db.OpScan, Err: f.err}
	}
	var keys []string
	add := func(k string) {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	for k := range f.kv {
		add(k)
	}
	for k := range f.hashes {
		add(k)
	}
	for k := range f.lists {
		add(k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeRedis) EvalInt(_ context.Context, s *db.Script, keys, args []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, s.Name)
	if f.err != nil {
		return 0, &db.Error{Op: db.OpEval, Err: f.err}
	}

	switch s.Name {
	case insertScript.Name:
		n, _ := strconv.ParseInt(f.kv[keys[0]], 10, 64)
		limit, _ := strconv.ParseInt(args[0], 10, 64)
		if n >= limit {
			return -1, nil
		}
		n++
		id := strconv.FormatInt(n, 10)
		f.kv[keys[0]] = id
		f.hashes[args[1]+id] = map[string]string{
			"id": id, "exp_key": args[2], "state": "new",
			"assignment": args[3], "vector": args[4], "created_at": args[5],
		}
		f.lists[keys[1]] = append(f.lists[keys[1]], id)
		return n, nil

	case claimScript.Name:
		pending := f.lists[keys[0]]
		if len(pending) == 0 {
			return -1, nil
		}
		id := pending[0]
		f.lists[keys[0]] = pending[1:]
		h := f.hash(args[0] + id)
		h["state"], h["owner"], h["started_at"] = "running", args[1], args[2]
		n, _ := strconv.ParseInt(id, 10, 64)
		return n, nil

	case completeScript.Name:
		h, ok := f.hashes[keys[0]]
		if !ok || h["state"] != "running" {
			return 0, nil
		}
		h["state"], h["loss"], h["error_kind"], h["error"], h["finished_at"] = args[0], args[1], args[2], args[3], args[4]
		return 1, nil

	case releaseScript.Name:
		h, ok := f.hashes[keys[0]]
		if !ok || h["state"] != "running" {
			return 0, nil
		}
		h["state"], h["owner"], h["started_at"] = "new", "", ""
		f.lists[keys[1]] = append([]string{args[0]}, f.lists[keys[1]]...)
		return 1, nil
	}
	return 0, fmt.Errorf("unknown script %s", s.Name)
}

func (f *fakeRedis) hash(key string) map[string]string {
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	return h
}

func (f *fakeRedis) copyHash(key string) map[string]string {
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out
}
