package internal

import "testing"

// TestFlattenNotificationData tests nested maps and lists are addressable by path.
func TestFlattenNotificationData(t *testing.T) {
	input := map[string]interface{}{
		"kind": "issue",
		"data": map[string]interface{}{
			"delta":  4,
			"labels": []string{"bug", "ui"},
			"authors": []interface{}{
				map[string]interface{}{"login": "octocat"},
			},
		},
	}

	flat := Flatten(input)
	if flat["kind"] != "issue" {
		t.Fatalf("expected kind to be kept")
	}
	if flat["data.delta"] != 4 {
		t.Fatalf("expected data.delta to be 4")
	}
	if _, ok := flat["data.labels"].([]string); !ok {
		t.Fatalf("expected data.labels to keep the list")
	}
	if flat["data.labels[1]"] != "ui" {
		t.Fatalf("expected data.labels[1] to be ui, got %v", flat["data.labels[1]"])
	}
	if flat["data.authors[0].login"] != "octocat" {
		t.Fatalf("expected data.authors[0].login to be octocat")
	}
	if _, ok := flat["data"].(map[string]interface{}); !ok {
		t.Fatalf("expected data to keep the nested map")
	}
}
