// Command report renders an HTML summary of a recorded engagement session:
// target trajectories in the rig XZ plane and mirror angle commands over
// time.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/beamtrack/internal/store"
	"github.com/banshee-data/beamtrack/internal/units"
)

var (
	dbFile     = flag.String("db", "engagements.db", "Engagement database file")
	sessionID  = flag.String("session", "", "Session ID (default: most recent)")
	outFile    = flag.String("out", "report.html", "Output HTML file")
	angleUnits = flag.String("angle-units", units.Milliradians,
		fmt.Sprintf("Display units for mirror angles (one of %v)", units.ValidAngleUnits))
)

func main() {
	flag.Parse()

	if !units.IsValidAngleUnit(*angleUnits) {
		log.Fatalf("invalid angle units %q (valid: %v)", *angleUnits, units.ValidAngleUnits)
	}

	st, err := store.OpenReadOnly(*dbFile)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	session, err := resolveSession(st, *sessionID)
	if err != nil {
		log.Fatalf("failed to resolve session: %v", err)
	}

	observations, err := st.TrackObservations(session)
	if err != nil {
		log.Fatalf("failed to load observations: %v", err)
	}
	events, err := st.AimEvents(session)
	if err != nil {
		log.Fatalf("failed to load aim events: %v", err)
	}
	if len(observations) == 0 && len(events) == 0 {
		log.Fatalf("session %s has no recorded data", session)
	}

	page := components.NewPage()
	page.AddCharts(trajectoryChart(session, observations), anglesChart(session, events, *angleUnits))

	f, err := os.Create(*outFile)
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}
	log.Printf("wrote %s (%d observations, %d aim events)", *outFile, len(observations), len(events))
}

func resolveSession(st *store.Store, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	sessions, err := st.ListSessions()
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", fmt.Errorf("no sessions in database")
	}
	return sessions[0].SessionID, nil
}

// trajectoryPoints converts observations into XZ scatter points in metres,
// each carrying speed as a third dimension for the colour scale. Also returns
// the peak speed so the visual map can span the data.
func trajectoryPoints(observations []store.TrackObservation) ([]opts.ScatterData, float64) {
	pts := make([]opts.ScatterData, 0, len(observations))
	maxSpeed := 0.0
	for _, o := range observations {
		if o.SpeedMps > maxSpeed {
			maxSpeed = o.SpeedMps
		}
		pts = append(pts, opts.ScatterData{
			Value: []interface{}{units.MmToM(o.XMm), units.MmToM(o.ZMm), o.SpeedMps},
		})
	}
	if maxSpeed == 0 {
		maxSpeed = 1
	}
	return pts, maxSpeed
}

// angleSeries converts valid aim events into per-axis series in the requested
// display units, with milliseconds since the first valid event on the x axis.
func angleSeries(events []store.AimEvent, unit string) (xAxis []string, xs, ys []opts.LineData) {
	var t0 int64
	for _, e := range events {
		if !e.Valid {
			continue
		}
		if t0 == 0 {
			t0 = e.Timestamp.UnixNano()
		}
		ms := float64(e.Timestamp.UnixNano()-t0) / 1e6
		xAxis = append(xAxis, fmt.Sprintf("%.0f", ms))
		xs = append(xs, opts.LineData{Value: units.ConvertAngle(e.AngleXRad, unit)})
		ys = append(ys, opts.LineData{Value: units.ConvertAngle(e.AngleYRad, unit)})
	}
	return xAxis, xs, ys
}

// trajectoryChart plots track positions in the XZ plane (top-down), coloured
// by speed.
func trajectoryChart(session string, observations []store.TrackObservation) components.Charter {
	pts, maxSpeed := trajectoryPoints(observations)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Engagement Report", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Target trajectory (top-down)", Subtitle: fmt.Sprintf("session=%s points=%d", session, len(pts))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Z (m)", NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxSpeed),
			Dimension:  "2",
		}),
	)
	scatter.AddSeries("tracks", pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	return scatter
}

// anglesChart plots issued mirror angles over time in the requested units.
func anglesChart(session string, events []store.AimEvent, unit string) components.Charter {
	xAxis, xs, ys := angleSeries(events, unit)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Mirror angle commands", Subtitle: fmt.Sprintf("session=%s", session)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (ms)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: fmt.Sprintf("angle (%s)", unit)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("angle_x", xs)
	line.AddSeries("angle_y", ys)
	return line
}
