package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func pathProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Absolute path to the drawing image",
	}
}

func pointSchema(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"description": description,
		"properties": map[string]interface{}{
			"x": map[string]interface{}{"type": "number"},
			"y": map[string]interface{}{"type": "number"},
		},
		"required": []string{"x", "y"},
	}
}

func contoursProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": "Raw contours in drawing units, Y growing downward. Area, perimeter, bbox and moments are derived when omitted.",
		"items": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"points": map[string]interface{}{
					"type":        "array",
					"description": "Ordered boundary points",
					"items":       pointSchema("Boundary point"),
				},
				"area":      map[string]interface{}{"type": "number"},
				"perimeter": map[string]interface{}{"type": "number"},
			},
			"required": []string{"points"},
		},
	}
}

func featuresProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": "Features as returned by nc_classify_contours or nc_detect_features",
		"items": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id": map[string]interface{}{"type": "string"},
				"kind": map[string]interface{}{
					"type": "string",
					"enum": []string{"circle", "rectangle", "polygon", "ellipse", "counterbore", "pocket"},
				},
				"center":     pointSchema("Feature center"),
				"confidence": map[string]interface{}{"type": "number"},
				"shape": map[string]interface{}{
					"type":        "object",
					"description": "Kind-specific dimensions",
				},
			},
			"required": []string{"id", "kind", "center", "shape"},
		},
	}
}

func directiveProperty() map[string]interface{} {
	number := map[string]interface{}{"type": "number", "exclusiveMinimum": 0}
	return map[string]interface{}{
		"type":        "object",
		"description": "Structured machining request",
		"properties": map[string]interface{}{
			"processing_type": map[string]interface{}{
				"type": "string",
				"enum": []string{"drilling", "tapping", "counterbore", "milling", "pocket"},
			},
			"thread_size":       map[string]interface{}{"type": "string", "description": "Metric thread such as M10"},
			"outer_diameter":    number,
			"inner_diameter":    number,
			"depth":             number,
			"drill_depth":       number,
			"hole_count":        map[string]interface{}{"type": "integer", "minimum": 1},
			"pcd_diameter":      number,
			"baseline_diameter": number,
			"tool_diameter":     number,
			"pcd_angles": map[string]interface{}{
				"type":        "array",
				"description": "Hole angles in degrees, counter-clockwise from +X",
				"items":       map[string]interface{}{"type": "number"},
			},
			"positions": map[string]interface{}{
				"type":        "array",
				"description": "Explicit hole positions in drawing units",
				"items":       pointSchema("Hole position"),
			},
			"material": map[string]interface{}{"type": "string"},
			"workpiece": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"length": map[string]interface{}{"type": "number"},
					"width":  map[string]interface{}{"type": "number"},
					"height": map[string]interface{}{"type": "number"},
				},
			},
			"special_requirements": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required": []string{"processing_type"},
	}
}

// jobProperties are the inputs of one program generation job.
func jobProperties() map[string]interface{} {
	return map[string]interface{}{
		"name":      map[string]interface{}{"type": "string", "description": "Label for logs and results"},
		"contours":  contoursProperty(),
		"features":  featuresProperty(),
		"directive": directiveProperty(),
		"strategy": map[string]interface{}{
			"type":        "string",
			"description": "Reference point strategy. Default from configuration (HighestY)",
			"enum":        []string{"HighestY", "LowestY", "LeftmostX", "RightmostX", "Centroid", "Custom"},
		},
		"origin": pointSchema("Reference point for the Custom strategy"),
		"mode": map[string]interface{}{
			"type":        "string",
			"description": "Coordinate mode for hole positions. Default cartesian",
			"enum":        []string{"cartesian", "polar"},
		},
		"number": map[string]interface{}{
			"type":        "integer",
			"description": "Program number 1-9999. Default from configuration",
			"minimum":     1,
			"maximum":     9999,
		},
		"title": map[string]interface{}{"type": "string", "description": "Program title comment"},
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Drawing input
		{
			Name:        "nc_drawing_info",
			Description: "Load a drawing image and return its dimensions, format and file size. The drawing stays cached for later tools.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty(),
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "nc_extract_contours",
			Description: "Extract one raw contour per closed shape of a clean drawing (dark ink on light paper). Optionally classify them in the same call.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty(),
					"threshold": map[string]interface{}{
						"type":        "integer",
						"description": "Luminance below which a pixel is ink (0-255). Default 128",
						"default":     128,
					},
					"blur": map[string]interface{}{
						"type":        "number",
						"description": "Gaussian blur sigma before thresholding. Default 0 (off)",
					},
					"min_pixels": map[string]interface{}{
						"type":        "integer",
						"description": "Discard shapes with fewer ink pixels. Default 20",
						"default":     20,
					},
					"invert": map[string]interface{}{
						"type":        "boolean",
						"description": "Treat light shapes on a dark background as ink",
					},
					"keep_border": map[string]interface{}{
						"type":        "boolean",
						"description": "Keep shapes touching the image edge, such as the drawing frame",
					},
					"region": map[string]interface{}{
						"type":        "object",
						"description": "Pixel rectangle to restrict extraction to (x2, y2 exclusive)",
						"properties": map[string]interface{}{
							"x1": map[string]interface{}{"type": "integer"},
							"y1": map[string]interface{}{"type": "integer"},
							"x2": map[string]interface{}{"type": "integer"},
							"y2": map[string]interface{}{"type": "integer"},
						},
						"required": []string{"x1", "y1", "x2", "y2"},
					},
					"scale": map[string]interface{}{
						"type":        "number",
						"description": "Drawing units per pixel. Default 1",
						"default":     1.0,
					},
					"samples": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum boundary points per contour. Default 360",
						"default":     360,
					},
					"classify": map[string]interface{}{
						"type":        "boolean",
						"description": "Also classify the contours into features",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "nc_render_overlay",
			Description: "Draw the bounding box, center mark and index of each feature over the drawing and return it as base64 PNG. Use it to audit what was detected.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":     pathProperty(),
					"features": featuresProperty(),
					"contours": contoursProperty(),
					"scale": map[string]interface{}{
						"type":        "number",
						"description": "Drawing units per pixel, as given to nc_extract_contours. Default 1",
						"default":     1.0,
					},
					"labels": map[string]interface{}{
						"type":        "boolean",
						"description": "Draw the feature index next to each box",
					},
					"color": map[string]interface{}{
						"type":        "string",
						"description": "Single #RRGGBB color instead of the per-kind palette",
					},
					"resize": map[string]interface{}{
						"type":        "number",
						"description": "Output scale factor. Default 1",
					},
				},
				"required": []string{"path"},
			},
		},

		// Feature recognition
		{
			Name:        "nc_classify_contours",
			Description: "Classify raw contours into circles, rectangles, polygons and ellipses with confidence scores. Unrecognized contours are counted, not returned.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"contours": contoursProperty(),
				},
				"required": []string{"contours"},
			},
		},
		{
			Name:        "nc_detect_features",
			Description: "Remove duplicate detections, then pair concentric circles into counterbores, match holes to a declared pitch circle and recognize pockets with corner radii.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"contours":  contoursProperty(),
					"features":  featuresProperty(),
					"directive": directiveProperty(),
				},
			},
		},
		{
			Name:        "nc_normalize",
			Description: "Translate features into the machining frame by subtracting a reference point. Each feature keeps its original center.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"features": featuresProperty(),
					"strategy": jobProperties()["strategy"],
					"origin":   pointSchema("Reference point for the Custom strategy"),
				},
				"required": []string{"features"},
			},
		},

		// Planning and emission
		{
			Name:        "nc_plan",
			Description: "Plan the ordered machining stages (center drill, drill, counterbore, tap, mill) with tools, speeds, feeds and depths for normalized features.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"features":  featuresProperty(),
					"directive": directiveProperty(),
				},
				"required": []string{"features", "directive"},
			},
		},
		{
			Name:        "nc_generate_program",
			Description: "Run the complete flow (classify, detect, normalize, plan, emit) and return a FANUC-style NC program with diagnostics.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": jobProperties(),
				"required":   []string{"directive"},
			},
		},
		{
			Name:        "nc_generate_batch",
			Description: "Generate programs for several independent drawings in parallel. Results keep the job order; a failed job does not affect the others.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"jobs": map[string]interface{}{
						"type": "array",
						"items": map[string]interface{}{
							"type":       "object",
							"properties": jobProperties(),
							"required":   []string{"directive"},
						},
					},
				},
				"required": []string{"jobs"},
			},
		},

		// Reference data
		{
			Name:        "nc_thread_table",
			Description: "List the configured metric threads with pitch, tap drill diameter and the tap and drill tool numbers.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}
