// Command beamtrack runs the stereo target-interception control loop:
// detections from both eyes are matched into 3-D localizations, tracked
// across frames, and the predicted target position steers the galvo mirror.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/beamtrack/internal/aim"
	"github.com/banshee-data/beamtrack/internal/config"
	"github.com/banshee-data/beamtrack/internal/galvo"
	"github.com/banshee-data/beamtrack/internal/monitoring"
	"github.com/banshee-data/beamtrack/internal/pipeline"
	"github.com/banshee-data/beamtrack/internal/stereo"
	"github.com/banshee-data/beamtrack/internal/store"
	"github.com/banshee-data/beamtrack/internal/track"
	"github.com/banshee-data/beamtrack/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run against the synthetic frame source and mock actuator")
	verbose     = flag.Bool("v", false, "Enable per-frame debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
	rigPath     = flag.String("rig", "config/stereo_params.json", "Stereo rig calibration file")
	affinePath  = flag.String("affine", "config/affine_params.json", "Galvo affine calibration file")
	tuningPath  = flag.String("tuning", "", "Optional tuning overrides (JSON)")
	galvoPort   = flag.String("galvo", "/dev/ttyUSB0", "Galvo controller serial port")
	dbFile      = flag.String("db", "", "Optional sqlite file for engagement recording")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Printf("beamtrack %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	monitoring.SetDebug(*verbose)

	// Calibration is the one fatal startup dependency: without rig geometry
	// the pipeline cannot compute positions safely.
	rig, err := stereo.LoadRig(*rigPath)
	if err != nil {
		log.Fatalf("failed to load rig calibration: %v", err)
	}

	tuning := config.EmptyTuningConfig()
	if *tuningPath != "" {
		tuning, err = config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	actuator, source, detector, err := buildFrontEnd(rig, tuning)
	if err != nil {
		log.Fatalf("failed to initialise hardware: %v", err)
	}
	defer actuator.Close()
	defer source.Close()

	var sink pipeline.RecordSink
	if *dbFile != "" {
		st, err := openStore(*dbFile)
		if err != nil {
			log.Fatalf("failed to open engagement store: %v", err)
		}
		defer st.Close()
		sink = st
		log.Printf("recording session %s to %s", st.SessionID(), *dbFile)
	}

	loop := pipeline.NewLoop(pipeline.LoopConfig{
		Source:    source,
		Detector:  detector,
		Localizer: stereo.NewLocalizer(rig, localizerConfig(tuning)),
		Tracker:   track.NewTracker(trackerConfig(tuning)),
		Controller: aim.NewController(aim.ControllerConfig{
			SlewRateRadPerSec:  tuning.GetSlewRateRadPerSec(),
			TravelRangeRad:     tuning.GetTravelRangeRad(),
			ControlPeriod:      tuning.GetControlPeriod(),
			DeadbandBaseRad:    tuning.GetDeadbandBaseRad(),
			DeadbandSlope:      tuning.GetDeadbandSlope(),
			FeedbackGain:       tuning.GetFeedbackGain(),
			FeedbackBiasMaxRad: tuning.GetFeedbackBiasMaxRad(),
			FeedbackStaleAfter: tuning.GetFeedbackStaleAfter(),
		}),
		Actuator:        actuator,
		Rig:             rig,
		ControlPeriod:   tuning.GetControlPeriod(),
		ActuatorTimeout: tuning.GetActuatorTimeout(),
		Sink:            sink,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("control loop running (period %s)", tuning.GetControlPeriod())
	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("control loop stopped: %v", err)
	}

	m := loop.Metrics()
	log.Printf("shutdown: frames=%d dropped=%d commands=%d holds=%d clamps=%d actuator_timeouts=%d",
		m.FramesProcessed, m.FramesDropped, m.CommandsIssued, m.CommandHolds,
		m.ClampEvents, m.ActuatorTimeouts)
}

// buildFrontEnd assembles the actuator, frame source and detector for the
// selected mode. Dev mode substitutes a scripted figure-of-eight target and a
// mock actuator so the whole loop runs without hardware.
func buildFrontEnd(rig *stereo.CalibratedRig, tuning *config.TuningConfig) (galvo.Actuator, pipeline.FrameSource, pipeline.Detector, error) {
	if *devMode {
		path := func(elapsed time.Duration) (float64, float64, float64, bool) {
			t := elapsed.Seconds()
			return 80 * math.Sin(2*math.Pi*t), 40 * math.Sin(4*math.Pi*t), 1000, true
		}
		source := pipeline.NewSyntheticSource(rig, path, tuning.GetControlPeriod(), 0, nil)
		return galvo.NewMockActuator(), source, pipeline.StubDetector{}, nil
	}

	cal, err := galvo.LoadAffineCalibration(*affinePath)
	if err != nil {
		return nil, nil, nil, err
	}
	actuator, err := galvo.NewSerialActuator(*galvoPort, cal)
	if err != nil {
		return nil, nil, nil, err
	}

	// The capture and inference paths are external integrations; wire the
	// real implementations in here as they land. Until then non-dev runs
	// idle on an empty synthetic scene.
	empty := func(time.Duration) (float64, float64, float64, bool) { return 0, 0, 0, false }
	source := pipeline.NewSyntheticSource(rig, empty, tuning.GetControlPeriod(), 0, nil)
	return actuator, source, pipeline.StubDetector{}, nil
}

func openStore(path string) (*store.Store, error) {
	mode := "live"
	if *devMode {
		mode = "dev"
	}
	return store.Open(path, mode)
}

func localizerConfig(tuning *config.TuningConfig) stereo.LocalizerConfig {
	return stereo.LocalizerConfig{
		MaxDisparityPx: tuning.GetMaxDisparityPx(),
		MaxRowOffsetPx: tuning.GetMaxRowOffsetPx(),
		MinConfidence:  tuning.GetMinConfidence(),
		MinAreaPx:      tuning.GetMinBlobAreaPx(),
		MaxAreaPx:      tuning.GetMaxBlobAreaPx(),
	}
}

func trackerConfig(tuning *config.TuningConfig) track.TrackerConfig {
	cfg := track.DefaultTrackerConfig()
	cfg.HitsToConfirm = tuning.GetHitsToConfirm()
	cfg.MaxMisses = tuning.GetMaxMisses()
	cfg.LossTimeout = tuning.GetLossTimeout()
	cfg.MaxTargetSpeedMps = tuning.GetMaxTargetSpeedMps()
	cfg.HistoryWindow = tuning.GetHistoryWindow()
	cfg.PredictionHorizon = tuning.GetPredictionHorizon()
	return cfg
}
