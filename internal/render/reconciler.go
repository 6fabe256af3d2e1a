package render

import (
	"sort"
	"strings"
	"sync"

	"github.com/ardhilink/plotsync/internal/geo"
	"github.com/ardhilink/plotsync/internal/models"
)

// Style palette. One fill color per status, a distinguished highlight for
// selection, neutral gray for anything unrecognized.
const (
	fillAvailable = "#2e7d32"
	fillTaken     = "#c62828"
	fillPending   = "#f9a825"
	fillUnknown   = "#9e9e9e"
	fillSelected  = "#1565c0"

	strokeDefault  = "#263238"
	strokeSelected = "#0d47a1"

	dashPending = "6 4"

	baseWeight     = 2.0
	selectedWeight = 3.0
	hoverBoost     = 1.5

	baseOpacity        = 0.35
	takenOpacity       = 0.2
	selectedOpacity    = 0.45
	hoverOpacityBoost  = 0.2
	maxOpacity         = 1.0
	labelTailRuneCount = 4
)

// Instruction is the render directive for a single plot. It is derived, never
// stored: every reconciliation pass recomputes the full set.
type Instruction struct {
	PlotID       string  `json:"plotId"`
	FillColor    string  `json:"fillColor"`
	StrokeColor  string  `json:"strokeColor"`
	DashPattern  string  `json:"dashPattern,omitempty"`
	FillOpacity  float64 `json:"fillOpacity"`
	StrokeWeight float64 `json:"strokeWeight"`
}

// Label is a text marker placed at a plot's centroid.
type Label struct {
	PlotID   string     `json:"plotId"`
	Text     string     `json:"text"`
	Position [2]float64 `json:"position"`
}

// State is the full render instruction set for the current view.
type State struct {
	Instructions map[string]Instruction `json:"instructions"`
	Labels       []Label                `json:"labels"`
}

// ViewState captures the map view inputs that drive style derivation.
// At most one plot is hovered at a time; setting a new hover target
// implicitly clears the previous one.
type ViewState struct {
	Zoom       float64
	HoverID    string
	SelectedID string
}

// Reconciler maps the current valid plot set and view state to render
// instructions. Reconcile is a pure function of its inputs; the only internal
// state is a label cache keyed by plot-set version and zoom eligibility,
// since labels are expensive (centroids) and only change when the set
// changes or the zoom crosses the visibility threshold.
type Reconciler struct {
	labelMinZoom float64

	mu             sync.Mutex
	cacheValid     bool
	cachedVersion  uint64
	cachedEligible bool
	cachedLabels   []Label
}

// NewReconciler creates a Reconciler that suppresses labels below minZoom.
func NewReconciler(labelMinZoom float64) *Reconciler {
	return &Reconciler{labelMinZoom: labelMinZoom}
}

// Reconcile produces the render instruction set for the given plots and view.
// plots must be the renderable (geometry-validated) set; version identifies
// the plot-set revision for label caching. Identical inputs always produce
// identical output.
func (r *Reconciler) Reconcile(plots []models.Plot, version uint64, view ViewState) State {
	instructions := make(map[string]Instruction, len(plots))
	for i := range plots {
		instructions[plots[i].ID] = styleFor(&plots[i], view)
	}

	return State{
		Instructions: instructions,
		Labels:       r.labels(plots, version, view.Zoom),
	}
}

// styleFor derives one plot's instruction from status, hover and selection.
// Selection overrides status color; hover boosts weight and opacity for the
// single hovered plot.
func styleFor(plot *models.Plot, view ViewState) Instruction {
	inst := Instruction{
		PlotID:       plot.ID,
		StrokeColor:  strokeDefault,
		StrokeWeight: baseWeight,
		FillOpacity:  baseOpacity,
	}

	switch plot.Status {
	case models.StatusAvailable:
		inst.FillColor = fillAvailable
	case models.StatusTaken:
		inst.FillColor = fillTaken
		inst.FillOpacity = takenOpacity
	case models.StatusPending:
		inst.FillColor = fillPending
		inst.DashPattern = dashPending
	default:
		inst.FillColor = fillUnknown
	}

	if view.SelectedID == plot.ID {
		inst.FillColor = fillSelected
		inst.StrokeColor = strokeSelected
		inst.FillOpacity = selectedOpacity
		inst.StrokeWeight = selectedWeight
	}

	if view.HoverID == plot.ID {
		inst.StrokeWeight += hoverBoost
		inst.FillOpacity += hoverOpacityBoost
		if inst.FillOpacity > maxOpacity {
			inst.FillOpacity = maxOpacity
		}
	}

	return inst
}

// labels returns the label set, recomputing only when the plot-set version
// or zoom eligibility changed since the last pass.
func (r *Reconciler) labels(plots []models.Plot, version uint64, zoom float64) []Label {
	eligible := zoom >= r.labelMinZoom

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.cacheValid || r.cachedVersion != version || r.cachedEligible != eligible {
		r.cachedLabels = computeLabels(plots, eligible)
		r.cachedVersion = version
		r.cachedEligible = eligible
		r.cacheValid = true
	}

	out := make([]Label, len(r.cachedLabels))
	copy(out, r.cachedLabels)
	return out
}

func computeLabels(plots []models.Plot, eligible bool) []Label {
	if !eligible {
		return []Label{}
	}

	labels := make([]Label, 0, len(plots))
	for i := range plots {
		x, y := geo.PlotCentroid(plots[i].Geometry)
		labels = append(labels, Label{
			PlotID:   plots[i].ID,
			Text:     labelText(&plots[i]),
			Position: [2]float64{x, y},
		})
	}

	sort.Slice(labels, func(i, j int) bool { return labels[i].PlotID < labels[j].PlotID })
	return labels
}

// labelText prefers the plot's short number attribute, falling back to the
// tail of the plot code.
func labelText(plot *models.Plot) string {
	if number, ok := plot.Attributes.GetString("plot_number"); ok {
		return number
	}
	return codeTail(plot.PlotCode)
}

// codeTail returns the final path-ish segment of a plot code, or its last
// few characters when the code has no separators.
func codeTail(code string) string {
	if idx := strings.LastIndexAny(code, "/-"); idx >= 0 && idx+1 < len(code) {
		return code[idx+1:]
	}
	runes := []rune(code)
	if len(runes) <= labelTailRuneCount {
		return code
	}
	return string(runes[len(runes)-labelTailRuneCount:])
}
