package template

import (
	"os"
	"testing"
)

func TestExpand(t *testing.T) {
	tests := []struct {
		name     string
		template string
		store    map[string]any
		expected string
		wantErr  bool
	}{
		{
			name:     "capture sequence",
			template: "screencap -p /tmp/shot-{{seq}}.png && cat /tmp/shot-{{seq}}.png",
			store:    map[string]any{"seq": 3},
			expected: "screencap -p /tmp/shot-3.png && cat /tmp/shot-3.png",
		},
		{
			name:     "url and index of the target",
			template: `grab --url '{{url}}' --tag t{{index}}`,
			store:    map[string]any{"url": "https://example.com/?a=1", "index": 0},
			expected: "grab --url 'https://example.com/?a=1' --tag t0",
		},
		{
			name:     "upload name and mime type",
			template: `aws s3 cp - s3://captures/{{name}} --content-type {{mime}}`,
			store:    map[string]any{"name": "000-example-com.png", "mime": "image/png"},
			expected: "aws s3 cp - s3://captures/000-example-com.png --content-type image/png",
		},
		{
			name:     "environment with a fallback",
			template: `{{env.VRT_BUCKET == "" ? "local" : env.VRT_BUCKET}}/{{name}}`,
			store: map[string]any{
				"env":  map[string]string{"VRT_BUCKET": ""},
				"name": "a.png",
			},
			expected: "local/a.png",
		},
		{
			name:     "nested maps",
			template: "{{vars.device.width}}x{{vars.device.height}}",
			store: map[string]any{
				"vars": map[string]any{"device": map[string]any{"width": 390, "height": 844}},
			},
			expected: "390x844",
		},
		{
			name:     "arithmetic and spaces inside braces",
			template: "--frame {{ seq - 1 }}",
			store:    map[string]any{"seq": 1},
			expected: "--frame 0",
		},
		{
			name:     "doubles and bools",
			template: "--dpr {{dpr}} --headless={{headless}}",
			store:    map[string]any{"dpr": 2.0, "headless": true},
			expected: "--dpr 2 --headless=true",
		},
		{
			name:     "no placeholders",
			template: "cat shot.png",
			store:    map[string]any{"seq": 1},
			expected: "cat shot.png",
		},
		{
			name:     "undefined variable",
			template: "cat {{path}}",
			store:    map[string]any{"seq": 1},
			wantErr:  true,
		},
		{
			name:     "invalid expression",
			template: "cat {{seq == }}",
			store:    map[string]any{"seq": 1},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Expand(tt.template, tt.store)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expand() expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expand() unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("Expand() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestInferCELType(t *testing.T) {
	store := map[string]any{
		"url":    "https://example.com",
		"index":  int64(2),
		"ratio":  float32(0.5),
		"fully":  false,
		"env":    map[string]string{"HOME": "/home/user"},
		"vars":   map[string]any{"a": 1},
		"frames": []string{"app", "0"},
		"args":   []any{1, "a"},
	}
	env, err := createCELEnv(store)
	if err != nil {
		t.Fatalf("createCELEnv() error = %v", err)
	}
	for _, expr := range []string{
		`url.startsWith("https://")`,
		`index + 1`,
		`ratio * 2.0`,
		`!fully`,
		`env.HOME.size()`,
		`frames[0] + "/" + frames[1]`,
		`size(args)`,
	} {
		if _, issues := env.Compile(expr); issues != nil && issues.Err() != nil {
			t.Errorf("Compile(%q) error = %v", expr, issues.Err())
		}
	}
}

func TestEnvironToMap(t *testing.T) {
	t.Setenv("VRT_TEMPLATE_TEST", "a=b")
	env := EnvironToMap()
	if got := env["VRT_TEMPLATE_TEST"]; got != "a=b" {
		t.Errorf("EnvironToMap()[VRT_TEMPLATE_TEST] = %q, want %q", got, "a=b")
	}
	if got, want := env["PATH"], os.Getenv("PATH"); got != want {
		t.Errorf("EnvironToMap()[PATH] = %q, want %q", got, want)
	}
}
