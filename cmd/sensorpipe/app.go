package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"codeberg.org/mutker/sensorpipe/internal/config"
	"codeberg.org/mutker/sensorpipe/internal/console"
	"codeberg.org/mutker/sensorpipe/internal/errors"
	"codeberg.org/mutker/sensorpipe/internal/experiment"
	"codeberg.org/mutker/sensorpipe/internal/logger"
	"codeberg.org/mutker/sensorpipe/internal/metrics"
	"codeberg.org/mutker/sensorpipe/internal/remote"
	"codeberg.org/mutker/sensorpipe/internal/render"
	"codeberg.org/mutker/sensorpipe/internal/run"
	"codeberg.org/mutker/sensorpipe/internal/sensor"
	"codeberg.org/mutker/sensorpipe/internal/session"
)

// app owns every long-lived component of the daemon.
type app struct {
	cfg *config.Config
	log logger.Logger

	source sensor.Source
	serial *sensor.SerialSource
	closer io.Closer

	exp       *experiment.Experiment
	ctrl      *run.Controller
	bridge    *remote.Bridge
	render    *render.Scheduler
	view      *console.View
	keyboard  *console.Keyboard
	stdin     *os.File
	collector metrics.Collector
	sessions  *session.Store

	listener net.Listener
}

func newApp(cfg *config.Config, stdin io.Reader, stdout io.Writer) (*app, error) {
	a := &app{cfg: cfg, log: logger.Component("main")}
	if err := a.assemble(stdin, stdout); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) assemble(stdin io.Reader, stdout io.Writer) error {
	cfg := a.cfg
	def := cfg.ExperimentDefinition()
	kinds, err := def.Kinds()
	if err != nil {
		return err
	}

	if err := a.openSource(kinds); err != nil {
		return err
	}

	a.exp, err = experiment.Build(def, a.source)
	if err != nil {
		return err
	}

	a.ctrl, err = run.New(run.Options{
		Registry:         a.exp.Buffers,
		Channels:         a.exp.RunChannels(),
		Pass:             a.exp.Pass,
		AnalysisInterval: cfg.Analysis.Interval,
		Tick:             cfg.TimedRun.Tick,
		TimedRun:         cfg.RunTimedRun(),
	})
	if err != nil {
		return err
	}

	a.collector, err = metrics.NewService(cfg.MetricsConfig())
	if err != nil {
		return err
	}

	if sc := cfg.SessionConfig(); sc.Enabled() {
		a.sessions, err = session.Open(sc.DBPath)
		if err != nil {
			return err
		}
	}

	a.bridge = remote.NewBridge()

	var views []render.View
	if cfg.Console.Enabled {
		a.view = console.NewView(a.exp.Title, stdout)
		views = append(views, a.view)
		// Keys are only read from an interactive terminal; a service's
		// stdin would report EOF and quit immediately.
		if f, ok := stdin.(*os.File); ok && cfg.Console.Keyboard && console.IsTerminal(f) {
			a.keyboard = console.NewKeyboard(f, a.bridge, a.view)
			a.stdin = f
		}
	}

	a.render = render.New(render.Deps{
		Runner:   a.ctrl,
		Activity: a.ctrl.Analysis(),
		Commands: a.bridge,
		Buffers:  a.exp.Buffers,
		Views:    views,
		Recorder: metrics.NewFrameRecorder(a.collector),
	}, render.Options{
		FastInterval: cfg.Render.FastInterval,
		SlowInterval: cfg.Render.SlowInterval,
		ActivityStep: cfg.Render.ActivityStep,
	})

	if cfg.Remote.Enabled {
		a.listener, err = net.Listen("tcp", cfg.Remote.Addr)
		if err != nil {
			return errors.New().Wrap(errors.ErrInitApp, err)
		}
	}

	a.log.Info().
		Str("experiment", a.exp.Title).
		Str("source", cfg.Source.Type.String()).
		Int("buffers", len(a.exp.Buffers.Names())).
		Int("channels", len(a.exp.Channels)).
		Int("steps", len(a.exp.Pass)).
		Msg("Pipeline assembled")

	return nil
}

func (a *app) openSource(kinds []sensor.Kind) error {
	switch a.cfg.Source.Type {
	case config.SourceSerial:
		src, err := sensor.OpenSerialSource(a.cfg.Source.Port, a.cfg.Source.Baud, kinds)
		if err != nil {
			return err
		}
		a.source, a.serial, a.closer = src, src, src
	default:
		src := sensor.NewSimulatedSource(
			sensor.WithInterval(a.cfg.Source.Interval),
			sensor.WithNoise(a.cfg.Source.Noise),
		)
		a.source, a.closer = src, src
	}
	return nil
}

// run drives the pipeline until ctx is done or the keyboard asks to quit,
// then shuts everything down in dependency order.
func (a *app) run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a.restoreSession(ctx)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.render.Run(ctx)
	}()

	if a.serial != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.serial.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logError(err, "Serial source stopped")
			}
		}()
	}

	var server *http.Server
	if ln := a.listener; ln != nil {
		server = &http.Server{
			Handler:           remote.NewHandler(a.bridge, a.exp.Buffers, a.status),
			ReadHeaderTimeout: 5 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.log.Info().Str("addr", ln.Addr().String()).Msg("Remote interface listening")
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logError(err, "Remote interface stopped")
			}
		}()
	}

	if a.keyboard != nil {
		restore, err := console.MakeRaw(a.stdin)
		if err != nil {
			a.log.Warn().Err(err).Msg("Keyboard control unavailable")
		} else {
			defer restore()
			go func() {
				if err := a.keyboard.Run(ctx); err == nil {
					a.log.Info().Msg("Quit requested")
					cancel()
				}
			}()
		}
	}

	<-ctx.Done()

	if server != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("Remote interface shutdown")
		}
		cancelShutdown()
		a.listener = nil
	}

	if err := a.ctrl.Shutdown(a.cfg.ShutdownTimeout); err != nil {
		logError(err, "Analysis did not stop in time")
	}

	wg.Wait()

	a.saveSession()

	return a.close()
}

func (a *app) status() remote.Status {
	st := a.ctrl.State()
	return remote.Status{
		RunID:       a.ctrl.RunID(),
		State:       st.String(),
		Measuring:   st.Acquiring(),
		BeforeStart: a.ctrl.BeforeStart(),
		RemainingMS: a.ctrl.Remaining().Milliseconds(),
		Activity:    a.render.Activity(),
	}
}

func (a *app) restoreSession(ctx context.Context) {
	if a.sessions == nil {
		return
	}

	name := a.cfg.Session.Name
	snap, err := a.sessions.Load(ctx, name)
	if errors.HasCode(err, session.ErrNotFound) {
		a.log.Debug().Str("session", name).Msg("No saved session")
		return
	}
	if err != nil {
		logError(errors.New().Wrap(errors.ErrLoadSession, err), "Session not restored")
		return
	}

	n, err := session.Apply(snap, a.exp.Buffers, a.ctrl)
	if err != nil {
		logError(errors.New().Wrap(errors.ErrLoadSession, err), "Session not restored")
		return
	}
	a.log.Info().Str("session", name).Int("buffers", n).Msg("Session restored")
}

func (a *app) saveSession() {
	if a.sessions == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	snap := session.Capture(a.exp.Buffers, a.ctrl)
	if _, err := a.sessions.Save(ctx, a.cfg.Session.Name, snap); err != nil {
		logError(errors.New().Wrap(errors.ErrSaveSession, err), "Session not saved")
	}
}

// close releases storage and the sensor source. It is safe on a partially
// constructed app.
func (a *app) close() error {
	var errs []error

	if a.listener != nil {
		a.listener.Close()
	}
	if a.collector != nil {
		if err := a.collector.Close(); err != nil {
			errs = append(errs, err)
		}
		a.collector = nil
	}
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			errs = append(errs, err)
		}
		a.sessions = nil
	}
	if a.closer != nil {
		if err := a.closer.Close(); err != nil {
			errs = append(errs, err)
		}
		a.closer = nil
	}

	if len(errs) > 0 {
		return errors.New().Wrap(errors.ErrShutdownFailed, errors.Join(errs...))
	}
	return nil
}
