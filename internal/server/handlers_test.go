package server

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"

	"github.com/ironsheep/nc-tools-mcp/internal/feature"
)

// createTestDrawing writes a white drawing with black disks and returns its
// path. Each disk is {cx, cy, r} in pixels.
func createTestDrawing(t *testing.T, width, height int, disks ...[3]float64) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.Color(color.White)
			for _, d := range disks {
				if math.Hypot(float64(x)+0.5-d[0], float64(y)+0.5-d[1]) <= d[2] {
					c = color.Black
				}
			}
			img.Set(x, y, c)
		}
	}

	path := filepath.Join(t.TempDir(), "drawing.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create drawing: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode drawing: %v", err)
	}
	return path
}

// circlePoints returns n boundary points of a circle in wire form.
func circlePoints(cx, cy, r float64, n int) []map[string]float64 {
	pts := make([]map[string]float64, n)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = map[string]float64{"x": cx + r*math.Cos(a), "y": cy + r*math.Sin(a)}
	}
	return pts
}

func circleContours(r float64, centers ...[2]float64) []map[string]interface{} {
	out := make([]map[string]interface{}, len(centers))
	for i, c := range centers {
		out[i] = map[string]interface{}{"points": circlePoints(c[0], c[1], r, 64)}
	}
	return out
}

func drillDirective() map[string]interface{} {
	return map[string]interface{}{
		"processing_type": "drilling",
		"depth":           10,
		"tool_diameter":   6.6,
		"material":        "steel",
	}
}

// callTool sends a tools/call request through handleRequest.
func callTool(t *testing.T, s *Server, name string, args interface{}) *MCPResponse {
	t.Helper()
	params := map[string]interface{}{"name": name, "arguments": args}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("failed to encode params: %v", err)
	}
	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  paramsJSON,
	})
	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	return resp
}

// decodeResult unmarshals the text content of a successful tool response.
func decodeResult(t *testing.T, resp *MCPResponse, v interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Result should be a map, got %T", resp.Result)
	}
	content, ok := result["content"].([]map[string]interface{})
	if !ok || len(content) != 1 {
		t.Fatalf("unexpected content: %v", result["content"])
	}
	if content[0]["type"] != "text" {
		t.Errorf("content type: got %v, want text", content[0]["type"])
	}
	text, _ := content[0]["text"].(string)
	if err := json.Unmarshal([]byte(text), v); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, text)
	}
}

func expectToolError(t *testing.T, resp *MCPResponse, substr string) {
	t.Helper()
	if resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if resp.Error.Code != -32000 {
		t.Errorf("error code: got %d, want -32000", resp.Error.Code)
	}
	if data, _ := resp.Error.Data.(string); !strings.Contains(data, substr) {
		t.Errorf("error data %q does not mention %q", data, substr)
	}
}

func TestHandleToolsCall_InvalidParams(t *testing.T) {
	s := newTestServer()
	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  jsoniter.RawMessage(`[1, 2]`),
	})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Errorf("got %+v, want -32602", resp.Error)
	}
}

func TestHandleToolsCall_UnknownTool(t *testing.T) {
	resp := callTool(t, newTestServer(), "image_crop", map[string]interface{}{})
	expectToolError(t, resp, "unknown tool")
}

func TestHandleToolsCall_ThreadTable(t *testing.T) {
	var got struct {
		Threads []threadRow `json:"threads"`
		Count   int         `json:"count"`
	}
	decodeResult(t, callTool(t, newTestServer(), "nc_thread_table", nil), &got)

	if got.Count != 10 || len(got.Threads) != 10 {
		t.Fatalf("Count: got %d, want 10", got.Count)
	}
	if got.Threads[0].Size != "M3" || got.Threads[9].Size != "M20" {
		t.Errorf("order: first %s, last %s", got.Threads[0].Size, got.Threads[9].Size)
	}
	for _, row := range got.Threads {
		if row.Size != "M10" {
			continue
		}
		if row.Pitch != 1.5 || row.TapDrill != 8.5 || row.TapTool != 26 || row.DrillTool != 8 {
			t.Errorf("M10 row: got %+v", row)
		}
		return
	}
	t.Error("M10 missing from the thread table")
}

func TestHandleToolsCall_ClassifyContours(t *testing.T) {
	args := map[string]interface{}{
		"contours": append(
			circleContours(5, [2]float64{50, 50}),
			map[string]interface{}{"points": []map[string]float64{{"x": 0, "y": 0}, {"x": 1, "y": 1}}},
		),
	}
	var got struct {
		Features     feature.Set `json:"features"`
		Labels       []string    `json:"labels"`
		Unclassified int         `json:"unclassified"`
		Count        int         `json:"count"`
	}
	decodeResult(t, callTool(t, newTestServer(), "nc_classify_contours", args), &got)

	if got.Count != 1 || len(got.Features) != 1 {
		t.Fatalf("Count: got %d, want 1", got.Count)
	}
	if got.Unclassified != 1 || len(got.Labels) != 2 {
		t.Errorf("Unclassified: got %d with labels %v", got.Unclassified, got.Labels)
	}
	f := got.Features[0]
	if f.Kind() != feature.KindCircle {
		t.Errorf("Kind: got %s, want circle", f.Kind())
	}
	if math.Abs(f.Center.X-50) > 0.01 || math.Abs(f.Center.Y-50) > 0.01 {
		t.Errorf("Center: got %v", f.Center)
	}
}

func TestHandleToolsCall_DetectFeatures(t *testing.T) {
	args := map[string]interface{}{
		"contours": append(circleContours(11, [2]float64{100, 100}), circleContours(7, [2]float64{100, 100})...),
		"directive": map[string]interface{}{
			"processing_type": "counterbore",
			"depth":           6,
		},
	}
	var got struct {
		Features     feature.Set `json:"features"`
		Counterbores int         `json:"counterbores"`
		Count        int         `json:"count"`
	}
	decodeResult(t, callTool(t, newTestServer(), "nc_detect_features", args), &got)

	if got.Count != 1 || got.Counterbores != 1 {
		t.Fatalf("got %d features and %d counterbores", got.Count, got.Counterbores)
	}
	if got.Features[0].Kind() != feature.KindCounterbore {
		t.Errorf("Kind: got %s, want counterbore", got.Features[0].Kind())
	}
}

func TestHandleToolsCall_DetectFeatures_InvalidDirective(t *testing.T) {
	args := map[string]interface{}{
		"directive": map[string]interface{}{"processing_type": "grinding"},
	}
	expectToolError(t, callTool(t, newTestServer(), "nc_detect_features", args), "invalid machining directive")
}

func TestHandleToolsCall_Normalize(t *testing.T) {
	set := feature.Set{
		{ID: "a", Shape: feature.Circle{Radius: 3, Circularity: 1}, Center: feature.Point{X: 40, Y: 20}.R2(), BBox: feature.Rect(37, 17, 43, 23), Confidence: 0.9},
		{ID: "b", Shape: feature.Circle{Radius: 3, Circularity: 1}, Center: feature.Point{X: 10, Y: 50}.R2(), BBox: feature.Rect(7, 47, 13, 53), Confidence: 0.9},
	}
	var got normalizeResult
	decodeResult(t, callTool(t, newTestServer(), "nc_normalize", map[string]interface{}{
		"features": set,
		"strategy": "LeftmostX",
	}), &got)

	if got.Reference.FeatureID != "b" || got.Reference.Point != (feature.Point{X: 10, Y: 50}) {
		t.Errorf("Reference: got %+v", got.Reference)
	}
	a := got.Features[0]
	if a.Center.X != 30 || a.Center.Y != -30 {
		t.Errorf("a center: got %v, want (30,-30)", a.Center)
	}
	if a.Original == nil || a.Original.X != 40 {
		t.Errorf("a original: got %v", a.Original)
	}
	if set[0].Center.X != 40 {
		t.Error("input features were modified")
	}
}

func TestHandleToolsCall_NormalizeErrors(t *testing.T) {
	s := newTestServer()
	set := feature.Set{{ID: "a", Shape: feature.Circle{Radius: 3}, Confidence: 0.5}}

	resp := callTool(t, s, "nc_normalize", map[string]interface{}{"features": set, "strategy": "Sideways"})
	expectToolError(t, resp, "unknown reference strategy")

	resp = callTool(t, s, "nc_normalize", map[string]interface{}{"features": set, "strategy": "Custom"})
	expectToolError(t, resp, "requires an origin")
}

func TestHandleToolsCall_Plan(t *testing.T) {
	set := feature.Set{
		{ID: "h1", Shape: feature.Circle{Radius: 3.3, Circularity: 1}, BBox: feature.Rect(-3.3, -3.3, 3.3, 3.3), Confidence: 0.9},
	}
	var got struct {
		Operations []struct {
			Stages []struct {
				Kind string `json:"kind"`
				Tool int    `json:"tool"`
			} `json:"stages"`
		} `json:"operations"`
	}
	decodeResult(t, callTool(t, newTestServer(), "nc_plan", map[string]interface{}{
		"features":  set,
		"directive": drillDirective(),
	}), &got)

	if len(got.Operations) != 1 || len(got.Operations[0].Stages) != 2 {
		t.Fatalf("unexpected recipe: %+v", got)
	}
	st := got.Operations[0].Stages
	if st[0].Kind != "center_drill" || st[1].Kind != "drill" || st[1].Tool != 6 {
		t.Errorf("stages: got %+v", st)
	}
}

func TestHandleToolsCall_PlanRequiresDirective(t *testing.T) {
	resp := callTool(t, newTestServer(), "nc_plan", map[string]interface{}{"features": []interface{}{}})
	expectToolError(t, resp, "directive is nil")
}

func TestHandleToolsCall_GenerateProgram(t *testing.T) {
	args := map[string]interface{}{
		"name":      "plate",
		"contours":  circleContours(3.3, [2]float64{100, 100}, [2]float64{150, 100}),
		"directive": drillDirective(),
		"number":    42,
		"title":     "plate",
	}
	var got struct {
		Name    string `json:"name"`
		RunID   string `json:"run_id"`
		Text    string `json:"text"`
		Error   string `json:"error"`
		Program struct {
			Number int    `json:"number"`
			RunID  string `json:"run_id"`
		} `json:"program"`
	}
	decodeResult(t, callTool(t, newTestServer(), "nc_generate_program", args), &got)

	if got.Name != "plate" || got.Error != "" {
		t.Errorf("header: got %+v", got)
	}
	if got.RunID == "" || got.Program.RunID != got.RunID {
		t.Errorf("run ids: %q and %q", got.RunID, got.Program.RunID)
	}
	if !strings.HasPrefix(got.Text, "%\nO0042 (PLATE)\n") {
		t.Errorf("program header:\n%s", got.Text)
	}
	if !strings.Contains(got.Text, "\nX50.000 Y0.000\n") || !strings.HasSuffix(got.Text, "M30\n%\n") {
		t.Errorf("program body:\n%s", got.Text)
	}
	if strings.Contains(got.Text, got.RunID) {
		t.Error("run id leaked into the program text")
	}
}

func TestHandleToolsCall_GenerateProgramError(t *testing.T) {
	args := map[string]interface{}{
		"contours":  circleContours(3.3, [2]float64{100, 100}),
		"directive": drillDirective(),
		"mode":      "spherical",
	}
	expectToolError(t, callTool(t, newTestServer(), "nc_generate_program", args), "unknown coordinate mode")
}

func TestHandleToolsCall_GenerateBatch(t *testing.T) {
	good := map[string]interface{}{
		"contours":  circleContours(3.3, [2]float64{100, 100}),
		"directive": drillDirective(),
	}
	jobs := []interface{}{
		good,
		map[string]interface{}{"name": "broken", "contours": circleContours(3.3, [2]float64{10, 10})},
		good,
	}
	var got struct {
		Results []struct {
			Name  string `json:"name"`
			Text  string `json:"text"`
			Error string `json:"error"`
		} `json:"results"`
		Failed int `json:"failed"`
		Count  int `json:"count"`
	}
	decodeResult(t, callTool(t, newTestServer(), "nc_generate_batch", map[string]interface{}{"jobs": jobs}), &got)

	if got.Count != 3 || got.Failed != 1 || len(got.Results) != 3 {
		t.Fatalf("got count %d, failed %d, results %d", got.Count, got.Failed, len(got.Results))
	}
	if got.Results[1].Name != "broken" || !strings.Contains(got.Results[1].Error, "missing directive") {
		t.Errorf("failed job: %+v", got.Results[1])
	}
	for _, i := range []int{0, 2} {
		if got.Results[i].Error != "" || !strings.Contains(got.Results[i].Text, "G81") {
			t.Errorf("job %d: %+v", i, got.Results[i])
		}
	}
}

func TestHandleToolsCall_GenerateBatchEmpty(t *testing.T) {
	resp := callTool(t, newTestServer(), "nc_generate_batch", map[string]interface{}{"jobs": []interface{}{}})
	expectToolError(t, resp, "jobs must not be empty")
}

func TestHandleToolsCall_DrawingInfo(t *testing.T) {
	path := createTestDrawing(t, 120, 80)
	var got struct {
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Format string `json:"format"`
	}
	decodeResult(t, callTool(t, newTestServer(), "nc_drawing_info", map[string]interface{}{"path": path}), &got)
	if got.Width != 120 || got.Height != 80 || got.Format != "png" {
		t.Errorf("got %+v", got)
	}
}

func TestHandleToolsCall_MissingPath(t *testing.T) {
	s := newTestServer()
	for _, tool := range []string{"nc_drawing_info", "nc_extract_contours", "nc_render_overlay"} {
		t.Run(tool, func(t *testing.T) {
			expectToolError(t, callTool(t, s, tool, map[string]interface{}{}), "path is required")
		})
	}
}

func TestHandleToolsCall_ExtractContours(t *testing.T) {
	path := createTestDrawing(t, 200, 120, [3]float64{60, 60, 25}, [3]float64{150, 60, 15})
	var got struct {
		Count          int `json:"count"`
		Classification struct {
			Features feature.Set `json:"features"`
			Count    int         `json:"count"`
		} `json:"classification"`
	}
	decodeResult(t, callTool(t, newTestServer(), "nc_extract_contours", map[string]interface{}{
		"path":     path,
		"classify": true,
	}), &got)

	if got.Count != 2 {
		t.Fatalf("Count: got %d, want 2", got.Count)
	}
	if got.Classification.Count != 2 {
		t.Fatalf("classified: got %d, want 2", got.Classification.Count)
	}
	for _, f := range got.Classification.Features {
		if f.Kind() != feature.KindCircle {
			t.Errorf("%s: got %s, want circle", f.ID, f.Kind())
		}
	}
}

func TestHandleToolsCall_ExtractContoursRegion(t *testing.T) {
	path := createTestDrawing(t, 200, 120, [3]float64{60, 60, 25}, [3]float64{150, 60, 15})
	var got struct {
		Count int `json:"count"`
	}
	decodeResult(t, callTool(t, newTestServer(), "nc_extract_contours", map[string]interface{}{
		"path":   path,
		"region": map[string]int{"x1": 120, "y1": 20, "x2": 190, "y2": 100},
	}), &got)
	if got.Count != 1 {
		t.Errorf("Count: got %d, want 1", got.Count)
	}

	resp := callTool(t, newTestServer(), "nc_extract_contours", map[string]interface{}{"path": path, "threshold": 300})
	expectToolError(t, resp, "outside 0..255")
}

func TestHandleToolsCall_RenderOverlay(t *testing.T) {
	path := createTestDrawing(t, 200, 120, [3]float64{60, 60, 25})
	var got struct {
		Width       int    `json:"width"`
		ImageBase64 string `json:"image_base64"`
		MimeType    string `json:"mime_type"`
		Count       int    `json:"count"`
		Legend      []struct {
			Kind string `json:"kind"`
		} `json:"legend"`
	}
	decodeResult(t, callTool(t, newTestServer(), "nc_render_overlay", map[string]interface{}{
		"path":     path,
		"contours": circleContours(25, [2]float64{60, 60}),
		"labels":   true,
	}), &got)

	if got.Width != 200 || got.MimeType != "image/png" || got.ImageBase64 == "" {
		t.Errorf("overlay: width %d, mime %s", got.Width, got.MimeType)
	}
	if got.Count != 1 || len(got.Legend) != 1 || got.Legend[0].Kind != "circle" {
		t.Errorf("legend: %+v", got.Legend)
	}
}

func TestHandleToolsCall_RenderOverlayMissingFile(t *testing.T) {
	resp := callTool(t, newTestServer(), "nc_render_overlay", map[string]interface{}{
		"path": filepath.Join(t.TempDir(), "missing.png"),
	})
	if resp.Error == nil || resp.Error.Code != -32000 {
		t.Errorf("got %+v, want a tool failure", resp.Error)
	}
}
