package server

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/golang/geo/r2"
	jsoniter "github.com/json-iterator/go"

	"github.com/ironsheep/nc-tools-mcp/internal/config"
	"github.com/ironsheep/nc-tools-mcp/internal/contour"
	"github.com/ironsheep/nc-tools-mcp/internal/detection"
	"github.com/ironsheep/nc-tools-mcp/internal/feature"
	"github.com/ironsheep/nc-tools-mcp/internal/imaging"
	"github.com/ironsheep/nc-tools-mcp/internal/machining"
	"github.com/ironsheep/nc-tools-mcp/internal/normalize"
	"github.com/ironsheep/nc-tools-mcp/internal/pipeline"
)

var errMissingPath = errors.New("path is required")

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "nc_plan", "nc_generate_program").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments jsoniter.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}
	if len(params.Arguments) == 0 {
		params.Arguments = jsoniter.RawMessage("{}")
	}

	log := s.log.WithField("tool", params.Name)
	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		log.WithError(err).Warn("tool failed")
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}
	log.Debug("tool finished")

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
//
// Each tool handler:
//  1. Unmarshals arguments from JSON
//  2. Applies default values for optional parameters
//  3. Loads drawings from cache as needed
//  4. Calls the appropriate detection/planning/emission function
//  5. Returns the result or error
func (s *Server) executeTool(ctx context.Context, name string, args jsoniter.RawMessage) (interface{}, error) {
	switch name {
	// Drawing input
	case "nc_drawing_info":
		return s.handleDrawingInfo(args)
	case "nc_extract_contours":
		return s.handleExtractContours(args)
	case "nc_render_overlay":
		return s.handleRenderOverlay(args)

	// Feature recognition
	case "nc_classify_contours":
		return s.handleClassifyContours(args)
	case "nc_detect_features":
		return s.handleDetectFeatures(args)
	case "nc_normalize":
		return s.handleNormalize(args)

	// Planning and emission
	case "nc_plan":
		return s.handlePlan(args)
	case "nc_generate_program":
		return s.handleGenerateProgram(args)
	case "nc_generate_batch":
		return s.handleGenerateBatch(ctx, args)

	// Reference data
	case "nc_thread_table":
		return s.handleThreadTable()

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// classifyOrUse returns features when given, or classifies contours.
func classifyOrUse(features feature.Set, contours []contour.RawContour) (feature.Set, error) {
	if len(features) > 0 {
		if err := features.Validate(); err != nil {
			return nil, err
		}
		return features, nil
	}
	return detection.ClassifyAll(contours).Features, nil
}

// === Drawing Handlers ===

type drawingArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleDrawingInfo(args jsoniter.RawMessage) (interface{}, error) {
	var a drawingArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, errMissingPath
	}
	return s.cache.Info(a.Path)
}

type regionArgs struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

type extractArgs struct {
	Path       string      `json:"path"`
	Threshold  int         `json:"threshold"`
	Blur       float64     `json:"blur"`
	MinPixels  int         `json:"min_pixels"`
	Invert     bool        `json:"invert"`
	KeepBorder bool        `json:"keep_border"`
	Region     *regionArgs `json:"region"`
	Scale      float64     `json:"scale"`
	Samples    int         `json:"samples"`
	Classify   bool        `json:"classify"`
}

type extractResult struct {
	*imaging.ContoursResult
	Classification *detection.ClassifyResult `json:"classification,omitempty"`
}

func (s *Server) handleExtractContours(args jsoniter.RawMessage) (interface{}, error) {
	var a extractArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, errMissingPath
	}
	if a.Threshold < 0 || a.Threshold > 255 {
		return nil, fmt.Errorf("threshold %d outside 0..255", a.Threshold)
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}

	opts := imaging.ExtractOptions{
		Threshold:  uint8(a.Threshold),
		Blur:       a.Blur,
		MinPixels:  a.MinPixels,
		Invert:     a.Invert,
		KeepBorder: a.KeepBorder,
		Scale:      a.Scale,
		Samples:    a.Samples,
	}
	if a.Region != nil {
		r := image.Rect(a.Region.X1, a.Region.Y1, a.Region.X2, a.Region.Y2)
		opts.Region = &r
	}
	res, err := imaging.ExtractContours(img, opts)
	if err != nil {
		return nil, err
	}

	out := &extractResult{ContoursResult: res}
	if a.Classify {
		out.Classification = detection.ClassifyAll(res.Contours)
	}
	return out, nil
}

type overlayArgs struct {
	Path     string               `json:"path"`
	Features feature.Set          `json:"features"`
	Contours []contour.RawContour `json:"contours"`
	Scale    float64              `json:"scale"`
	Labels   bool                 `json:"labels"`
	Color    string               `json:"color"`
	Resize   float64              `json:"resize"`
}

func (s *Server) handleRenderOverlay(args jsoniter.RawMessage) (interface{}, error) {
	var a overlayArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, errMissingPath
	}
	set, err := classifyOrUse(a.Features, a.Contours)
	if err != nil {
		return nil, err
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	return imaging.RenderOverlay(img, set, imaging.OverlayOptions{
		Scale:  a.Scale,
		Labels: a.Labels,
		Color:  a.Color,
		Resize: a.Resize,
	})
}

// === Feature Recognition Handlers ===

type classifyArgs struct {
	Contours []contour.RawContour `json:"contours"`
}

func (s *Server) handleClassifyContours(args jsoniter.RawMessage) (interface{}, error) {
	var a classifyArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	return detection.ClassifyAll(a.Contours), nil
}

type detectArgs struct {
	Contours  []contour.RawContour `json:"contours"`
	Features  feature.Set          `json:"features"`
	Directive *machining.Directive `json:"directive"`
}

func (s *Server) handleDetectFeatures(args jsoniter.RawMessage) (interface{}, error) {
	var a detectArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Directive != nil {
		if err := a.Directive.Validate(); err != nil {
			return nil, err
		}
	}
	set, err := classifyOrUse(a.Features, a.Contours)
	if err != nil {
		return nil, err
	}
	return s.composer.Resolve(set, a.Directive), nil
}

type normalizeArgs struct {
	Features feature.Set    `json:"features"`
	Strategy string         `json:"strategy"`
	Origin   *feature.Point `json:"origin"`
}

type normalizeResult struct {
	Reference normalize.ReferencePoint `json:"reference"`
	Features  feature.Set              `json:"features"`
	Count     int                      `json:"count"`
}

func (s *Server) handleNormalize(args jsoniter.RawMessage) (interface{}, error) {
	var a normalizeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Strategy == "" {
		a.Strategy = s.cfg.Strategy
	}
	strategy, err := normalize.ParseStrategy(a.Strategy)
	if err != nil {
		return nil, err
	}
	if err := a.Features.Validate(); err != nil {
		return nil, err
	}
	var origin *r2.Point
	if a.Origin != nil {
		o := a.Origin.R2()
		origin = &o
	}

	set := a.Features.Clone()
	ref, err := s.normalizer.Apply(set, strategy, origin)
	if err != nil {
		return nil, err
	}
	return &normalizeResult{Reference: ref, Features: set, Count: len(set)}, nil
}

// === Planning and Emission Handlers ===

type planArgs struct {
	Features  feature.Set          `json:"features"`
	Directive *machining.Directive `json:"directive"`
}

func (s *Server) handlePlan(args jsoniter.RawMessage) (interface{}, error) {
	var a planArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if err := a.Directive.Validate(); err != nil {
		return nil, err
	}
	if err := a.Features.Validate(); err != nil {
		return nil, err
	}
	return s.planner.Plan(a.Features.Clone(), a.Directive)
}

// programResult adds the program text to a pipeline result.
type programResult struct {
	*pipeline.Result
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func newProgramResult(res *pipeline.Result) *programResult {
	out := &programResult{Result: res}
	if res.Program != nil {
		out.Text = res.Program.Text()
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func (s *Server) handleGenerateProgram(args jsoniter.RawMessage) (interface{}, error) {
	var job pipeline.Job
	if err := json.Unmarshal(args, &job); err != nil {
		return nil, err
	}
	res, err := s.runner.Run(job)
	if err != nil {
		return nil, err
	}
	return newProgramResult(res), nil
}

type batchArgs struct {
	Jobs []pipeline.Job `json:"jobs"`
}

type batchResult struct {
	Results []*programResult `json:"results"`
	Failed  int              `json:"failed"`
	Count   int              `json:"count"`
}

func (s *Server) handleGenerateBatch(ctx context.Context, args jsoniter.RawMessage) (interface{}, error) {
	var a batchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if len(a.Jobs) == 0 {
		return nil, errors.New("jobs must not be empty")
	}

	out := &batchResult{Count: len(a.Jobs)}
	for _, res := range s.runner.RunBatch(ctx, a.Jobs) {
		if res.Err != nil {
			out.Failed++
		}
		out.Results = append(out.Results, newProgramResult(res))
	}
	return out, nil
}

// === Reference Data Handlers ===

type threadRow struct {
	Size     string  `json:"size"`
	Nominal  float64 `json:"nominal"`
	Pitch    float64 `json:"pitch"`
	TapDrill float64 `json:"tap_drill"`

	// Tool numbers from the tool table; 0 when none is configured.
	TapTool   int `json:"tap_tool"`
	DrillTool int `json:"drill_tool"`
}

func (s *Server) handleThreadTable() (interface{}, error) {
	sizes := s.cfg.ThreadSizes()
	rows := make([]threadRow, 0, len(sizes))
	for _, size := range sizes {
		pitch, _ := s.cfg.ThreadPitch(size)
		nominal := config.NominalDiameter(size)
		row := threadRow{
			Size:     size,
			Nominal:  nominal,
			Pitch:    pitch,
			TapDrill: config.TapDrillDiameter(nominal, pitch),
		}
		if t, ok := s.cfg.FindTool(config.ToolTap, nominal, size); ok {
			row.TapTool = t.Number
		}
		if t, ok := s.cfg.FindTool(config.ToolDrill, row.TapDrill, ""); ok {
			row.DrillTool = t.Number
		}
		rows = append(rows, row)
	}
	return map[string]interface{}{
		"threads": rows,
		"count":   len(rows),
	}, nil
}
