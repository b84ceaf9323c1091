package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/wastekonnect-admin/identity"
	"github.com/jrsteele09/wastekonnect-admin/identity/assertion"
	"github.com/redis/go-redis/v9"
)

var _ Bus = (*Redis)(nil)

const defaultResyncDelay = 500 * time.Millisecond

// publishScript stores the event as current only when it is newer than the
// stored one, then publishes it. KEYS: current, current seq. ARGV: seq, payload, channel.
const publishScript = `
local current = tonumber(redis.call("GET", KEYS[2]) or "0")
local seq = tonumber(ARGV[1])
if seq > current then
  redis.call("SET", KEYS[2], ARGV[1])
  redis.call("SET", KEYS[1], ARGV[2])
end
redis.call("PUBLISH", ARGV[3], ARGV[2])
return seq
`

var publishLua = redis.NewScript(publishScript)

// envelope is the wire form of an event on the channel and in the current key.
type envelope struct {
	Seq   uint64 `json:"seq"`
	Token string `json:"token"`
}

// Redis is a Bus shared by every console process pointing at the same Redis.
// Events are signed assertions numbered by a Redis counter; subscribers drop
// anything at or below the last number they delivered.
type Redis struct {
	client      *redis.Client
	signer      *assertion.Signer
	currentKey  string
	currentSeq  string
	seqKey      string
	channel     string
	resyncDelay time.Duration
}

// RedisOption configures a Redis bus.
type RedisOption func(*Redis)

// WithResyncDelay sets the pause between a stream failure and the resync read.
func WithResyncDelay(d time.Duration) RedisOption {
	return func(r *Redis) {
		r.resyncDelay = d
	}
}

// NewRedis creates a Redis bus under the key prefix.
func NewRedis(client *redis.Client, signer *assertion.Signer, prefix string, opts ...RedisOption) *Redis {
	if prefix == "" {
		prefix = "wk:session"
	}
	r := &Redis{
		client:      client,
		signer:      signer,
		currentKey:  prefix + ":current",
		currentSeq:  prefix + ":current:seq",
		seqKey:      prefix + ":seq",
		channel:     prefix + ":changes",
		resyncDelay: defaultResyncDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish numbers, signs and broadcasts the change.
func (r *Redis) Publish(ctx context.Context, id *identity.Identity) error {
	seq, err := r.client.Incr(ctx, r.seqKey).Uint64()
	if err != nil {
		return fmt.Errorf("[Redis Publish] next sequence: %w", err)
	}
	token, err := r.signer.Sign(seq, id)
	if err != nil {
		return fmt.Errorf("[Redis Publish] %w", err)
	}
	payload, err := json.Marshal(envelope{Seq: seq, Token: token})
	if err != nil {
		return fmt.Errorf("[Redis Publish] encode: %w", err)
	}
	keys := []string{r.currentKey, r.currentSeq}
	if err := publishLua.Run(ctx, r.client, keys, seq, payload, r.channel).Err(); err != nil {
		return fmt.Errorf("[Redis Publish] publish: %w", err)
	}
	return nil
}

// Subscribe joins the channel, delivers the current session and then streams
// changes until the returned Unsubscribe is called.
func (r *Redis) Subscribe(ctx context.Context, obs identity.Observer) (identity.Unsubscribe, error) {
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("[Redis Subscribe] subscribe %s: %w", r.channel, err)
	}

	d := newDelivery(obs)
	lastSeq, err := r.resync(ctx, d, 0, true)
	if err != nil {
		_ = ps.Close()
		d.close()
		return nil, fmt.Errorf("[Redis Subscribe] read current session: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	go r.listen(listenCtx, ps, d, lastSeq)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = ps.Close()
			d.close()
		})
	}, nil
}

func (r *Redis) listen(ctx context.Context, ps *redis.PubSub, d *delivery, lastSeq uint64) {
	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			d.push(event{err: err})

			// Changes published while the connection was down are only visible
			// through the current key.
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.resyncDelay):
			}
			seq, rerr := r.resync(ctx, d, lastSeq, false)
			if rerr != nil {
				if ctx.Err() != nil {
					return
				}
				d.push(event{err: rerr})
				continue
			}
			lastSeq = seq
			continue
		}

		env, a, err := r.decode([]byte(msg.Payload))
		if err != nil {
			d.push(event{err: err})
			continue
		}
		if env.Seq <= lastSeq {
			continue
		}
		lastSeq = env.Seq
		d.push(event{id: a.Identity})
	}
}

// resync reads the current key and delivers it when newer than lastSeq. With
// initial set exactly one event is always delivered.
func (r *Redis) resync(ctx context.Context, d *delivery, lastSeq uint64, initial bool) (uint64, error) {
	payload, err := r.client.Get(ctx, r.currentKey).Bytes()
	if errors.Is(err, redis.Nil) {
		if initial {
			d.push(event{id: nil})
		}
		return lastSeq, nil
	}
	if err != nil {
		return lastSeq, err
	}

	env, a, err := r.decode(payload)
	switch {
	case err == nil:
	case errors.Is(err, jwtlib.ErrTokenExpired) && env != nil:
		// An expired current assertion means the session has lapsed.
		a = &assertion.Assertion{Seq: env.Seq}
	default:
		if initial {
			d.push(event{err: err})
			d.push(event{id: nil})
		} else {
			d.push(event{err: err})
		}
		return lastSeq, nil
	}

	if initial || env.Seq > lastSeq {
		d.push(event{id: a.Identity})
		if env.Seq > lastSeq {
			lastSeq = env.Seq
		}
	}
	return lastSeq, nil
}

func (r *Redis) decode(payload []byte) (*envelope, *assertion.Assertion, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: malformed envelope: %w", assertion.ErrInvalidAssertion, err)
	}
	a, err := r.signer.Verify(env.Token)
	if err != nil {
		return &env, nil, err
	}
	if a.Seq != env.Seq {
		return nil, nil, fmt.Errorf("%w: sequence mismatch", assertion.ErrInvalidAssertion)
	}
	return &env, a, nil
}
