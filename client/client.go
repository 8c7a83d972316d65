// Package client implements the connection lifecycle (spec.md §4.8):
// bring-up of the uplink pump, downlink dispatcher, and every
// subsystem facade over a single Link, protocol version negotiation,
// and idempotent disconnect. Grounded on
// original_source/src/crazyflie.rs's Crazyflie::connect_from_link,
// adapted from a disconnect AtomicBool + two JoinHandles guarded by
// futures::lock::Mutex to internal/conn.Engine's own idempotent
// disconnectOnce, and from futures::join! on the Log/Param futures to
// golang.org/x/sync/errgroup.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/teris-io/shortid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bitcraze/crazyflie-lib-go/cmn/nlog"
	"github.com/bitcraze/crazyflie-lib-go/internal/cferrors"
	"github.com/bitcraze/crazyflie-lib-go/internal/conn"
	"github.com/bitcraze/crazyflie-lib-go/link"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/commander"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/console"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/hlcommander"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/linkdiag"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/localization"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/log"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/memory"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/param"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/platform"
	"github.com/bitcraze/crazyflie-lib-go/subsystem/supervisor"
	"github.com/bitcraze/crazyflie-lib-go/toccache"
)

// SupportedProtocolVersion is the lowest CRTP protocol version this
// library negotiates; §4.8 accepts it and exactly one version above it.
const SupportedProtocolVersion = 4

// bringupTimeout bounds protocol-version negotiation and TOC discovery;
// a device that never answers must not hang Client construction forever.
const bringupTimeout = 10 * time.Second

// Options configures a Client. The zero value is usable: it negotiates
// the default protocol band and keeps TOCs in memory only.
type Options struct {
	// TOCCache backs the param and log table-of-contents caches. Nil
	// defaults to toccache.NoCache{}.
	TOCCache toccache.Cache

	// UplinkRateLimit, if nonzero, caps outbound packets/second on the
	// uplink pump, for a ground station sharing radio airtime with other
	// drones. Zero means unthrottled.
	UplinkRateLimit rate.Limit
	// UplinkRateLimitBurst is the token bucket burst size backing
	// UplinkRateLimit. Ignored when UplinkRateLimit is zero; defaults to
	// 1 when UplinkRateLimit is set but this is zero.
	UplinkRateLimitBurst int
}

func (o Options) cache() toccache.Cache {
	if o.TOCCache == nil {
		return toccache.NoCache{}
	}
	return o.TOCCache
}

func (o Options) engineOpts() []conn.Option {
	if o.UplinkRateLimit == 0 {
		return nil
	}
	burst := o.UplinkRateLimitBurst
	if burst == 0 {
		burst = 1
	}
	return []conn.Option{conn.WithUplinkRateLimit(o.UplinkRateLimit, burst)}
}

// Client is a one-time-use handle to a single connected Crazyflie.
// Once Disconnect has run, no subsequent operation on any subsystem
// field succeeds; each returns cferrors.Disconnected. A new Client
// must be constructed to reconnect.
type Client struct {
	sessionID string

	engine *conn.Engine

	Log          *log.Log
	Param        *param.Param
	Memory       *memory.Memory
	Commander    *commander.Commander
	HLCommander  *hlcommander.HLCommander
	Console      *console.Console
	Localization *localization.Localization
	Platform     *platform.Platform
	Supervisor   *supervisor.Supervisor
	LinkDiag     *linkdiag.LinkDiag

	ProtocolVersion int
}

// New connects to a Crazyflie over an already-open Link. It registers
// every subsystem's port and brings up every subsystem but Param and
// Log, then negotiates the protocol version, then finishes Param and
// Log in parallel (each needs its table of contents, which in turn
// needs the negotiated version tag, before it is usable), all grounded
// in original_source's connect_from_link bring-up order.
func New(ctx context.Context, l link.Link, opts Options) (*Client, error) {
	sessionID := shortid.MustGenerate()

	engine := conn.New(l, opts.engineOpts()...)
	nlog.Infof("client[%s]: connected, registering subsystem ports", sessionID)

	// Every port is registered right away, before protocol version
	// negotiation, so unsolicited traffic on any of them (console text,
	// localization fixes, supervisor state, link-diag pings) is never
	// dropped by the dispatcher's unregistered-port rule during the
	// negotiation window (spec.md §4.8 step 2, §4.1). Param and Log can
	// only register here and split their channels: their TOC fetch needs
	// the version tag negotiation produces below, so it is deferred to
	// Continue.
	plat := platform.New(ctx, engine)
	paramChans := param.RegisterPort(ctx, engine)
	logChans := log.RegisterPort(ctx, engine)

	memSub, err := memory.New(ctx, engine)
	if err != nil {
		_ = engine.Disconnect()
		return nil, cferrors.Wrap(err, "memory subsystem init failed")
	}
	commanderSub := commander.New(engine)
	hlcommanderSub := hlcommander.New(engine)
	consoleSub := console.New(ctx, engine)
	localizationSub := localization.New(ctx, engine)
	supervisorSub := supervisor.New(ctx, engine)
	linkdiagSub := linkdiag.New(ctx, engine, l)

	nlog.Infof("client[%s]: negotiating protocol version", sessionID)

	bctx, cancel := context.WithTimeout(ctx, bringupTimeout)
	defer cancel()

	version, err := plat.ProtocolVersion(bctx)
	if err != nil {
		_ = engine.Disconnect()
		return nil, cferrors.Wrapf(err, "client[%s]: protocol version query failed", sessionID)
	}
	if version < SupportedProtocolVersion || version > SupportedProtocolVersion+1 {
		_ = engine.Disconnect()
		return nil, cferrors.NewProtocolVersionNotSupported(version, SupportedProtocolVersion)
	}
	nlog.Infof("client[%s]: negotiated protocol version %d", sessionID, version)

	cache := opts.cache()
	versionTag := byte(version)

	var paramSub *param.Param
	var logSub *log.Log
	g, gctx := errgroup.WithContext(bctx)
	g.Go(func() error {
		p, err := param.Continue(gctx, engine, paramChans, cache, versionTag)
		if err != nil {
			return cferrors.Wrap(err, "param TOC discovery failed")
		}
		paramSub = p
		return nil
	})
	g.Go(func() error {
		lg, err := log.Continue(gctx, engine, logChans, cache, versionTag)
		if err != nil {
			return cferrors.Wrap(err, "log TOC discovery failed")
		}
		logSub = lg
		return nil
	})
	if err := g.Wait(); err != nil {
		_ = engine.Disconnect()
		return nil, err
	}

	c := &Client{
		sessionID:       sessionID,
		engine:          engine,
		Log:             logSub,
		Param:           paramSub,
		Memory:          memSub,
		Commander:       commanderSub,
		HLCommander:     hlcommanderSub,
		Console:         consoleSub,
		Localization:    localizationSub,
		Platform:        plat,
		Supervisor:      supervisorSub,
		LinkDiag:        linkdiagSub,
		ProtocolVersion: version,
	}
	nlog.Infof("client[%s]: all subsystems ready", sessionID)
	return c, nil
}

// SessionID is a short opaque tag identifying this connection in log
// lines, useful for correlating multi-drone sessions.
func (c *Client) SessionID() string { return c.sessionID }

// Disconnect raises the disconnect flag, stops every background
// goroutine, and closes the link. It is idempotent: calling it more
// than once after the first call's effects land is a no-op.
func (c *Client) Disconnect() error {
	nlog.Infof("client[%s]: disconnecting", c.sessionID)
	return c.engine.Disconnect()
}

// WaitDisconnect blocks until the underlying link reports closure
// (e.g. a radio dropout) and then runs Disconnect.
func (c *Client) WaitDisconnect() error {
	return c.engine.WaitDisconnect()
}

// Disconnected reports whether Disconnect has completed or is in
// progress.
func (c *Client) Disconnected() bool { return c.engine.Disconnected() }

func (c *Client) String() string {
	return fmt.Sprintf("crazyflie-client[%s]", c.sessionID)
}
