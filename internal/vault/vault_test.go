package vault

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testTask(t *testing.T) *Document {
	t.Helper()
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	doc := NewDocument(KindTask, now)
	doc.Set("title", "Write quarterly report")
	doc.Set("status", TaskStatusActive)
	doc.Set("priority", PriorityHigh)
	doc.Set("tags", []string{"work", "writing"})
	doc.Body = "# Write quarterly report\n\n## Notes\n"
	return doc
}

// TestEncodeDecode_RoundTrip verifies that a document survives the
// file codec with all fields and body intact.
func TestEncodeDecode_RoundTrip(t *testing.T) {
	doc := testTask(t)

	data, err := Encode(doc)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}

	if got.ID != doc.ID {
		t.Errorf("ID = %q, want %q", got.ID, doc.ID)
	}
	if got.Kind != KindTask {
		t.Errorf("Kind = %q, want %q", got.Kind, KindTask)
	}
	if got.String("title") != "Write quarterly report" {
		t.Errorf("title = %q", got.String("title"))
	}
	if tags := got.Strings("tags"); len(tags) != 2 || tags[0] != "work" {
		t.Errorf("tags = %v", tags)
	}
	if got.Body != doc.Body {
		t.Errorf("Body = %q, want %q", got.Body, doc.Body)
	}
}

// TestStrings_InProcessMatchesDecoded verifies that a list field set as
// []string reads back the same before and after the disk round trip, so
// a freshly created document indexes with the same relationship rows as
// a rebuilt one.
func TestStrings_InProcessMatchesDecoded(t *testing.T) {
	doc := testTask(t)
	doc.Set("people_ids", []string{"person-a", "person-b"})

	before := doc.Strings("people_ids")
	if len(before) != 2 || before[0] != "person-a" || before[1] != "person-b" {
		t.Fatalf("Strings() before encode = %v", before)
	}

	data, err := Encode(doc)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}

	after := got.Strings("people_ids")
	if len(after) != len(before) {
		t.Fatalf("Strings() after decode = %v, want %v", after, before)
	}
	for i := range before {
		if after[i] != before[i] {
			t.Errorf("Strings()[%d] = %q, want %q", i, after[i], before[i])
		}
	}
	if tags := doc.Strings("tags"); len(tags) != 2 || tags[0] != "work" {
		t.Errorf("tags before encode = %v", tags)
	}
}

// TestEncode_Deterministic verifies that encoding the same document twice
// yields identical bytes (field ordering is canonical).
func TestEncode_Deterministic(t *testing.T) {
	doc := testTask(t)

	first, err := Encode(doc)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	second, err := Encode(doc)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	if string(first) != string(second) {
		t.Error("Encode() output is not deterministic")
	}
	if !strings.HasPrefix(string(first), "---\nid: ") {
		t.Errorf("id should be the first front-matter key, got:\n%s", first)
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"no front matter", "# Just a note\n"},
		{"unterminated", "---\nid: abc\n"},
		{"bad yaml", "---\nid: [unclosed\n---\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.data)); err == nil {
				t.Error("Decode() should have failed")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name    string
		mutate  func(*Document)
		wantErr bool
	}{
		{"valid task", func(d *Document) {}, false},
		{"missing title", func(d *Document) { delete(d.Fields, "title") }, true},
		{"invalid status", func(d *Document) { d.Fields["status"] = "paused" }, true},
		{"invalid priority", func(d *Document) { d.Fields["priority"] = "critical" }, true},
		{"missing id", func(d *Document) { d.ID = "" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := NewDocument(KindTask, now)
			doc.Set("title", "x")
			doc.Set("status", TaskStatusActive)
			tc.mutate(doc)
			err := doc.Validate()
			if tc.wantErr && err == nil {
				t.Error("Validate() should have failed")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Validate() failed: %v", err)
			}
		})
	}
}

func TestSet_IdentityImmutable(t *testing.T) {
	doc := testTask(t)
	origID := doc.Fields["id"]

	doc.Set("id", "other")
	doc.Set("type", "project")

	if doc.Fields["id"] != origID {
		t.Error("Set() must not change id")
	}
	if doc.Fields["type"] != "task" {
		t.Error("Set() must not change type")
	}
}

// TestCanonicalPath_StatusBuckets verifies that status changes move tasks
// between lifecycle folders and completed tasks land in a month bucket.
func TestCanonicalPath_StatusBuckets(t *testing.T) {
	doc := testTask(t)
	root := "/vault"

	path, err := CanonicalPath(root, doc)
	if err != nil {
		t.Fatalf("CanonicalPath() failed: %v", err)
	}
	want := filepath.Join(root, "01-tasks", "active", "task-"+doc.ID+".md")
	if path != want {
		t.Errorf("active path = %q, want %q", path, want)
	}

	doc.Set("status", TaskStatusCompleted)
	doc.Set("completed_at", "2026-08-30T18:00:00Z")
	path, err = CanonicalPath(root, doc)
	if err != nil {
		t.Fatalf("CanonicalPath() failed: %v", err)
	}
	want = filepath.Join(root, "01-tasks", "completed", "2026-08", "task-"+doc.ID+".md")
	if path != want {
		t.Errorf("completed path = %q, want %q", path, want)
	}
}

// TestScan_MalformedIsolation verifies that one bad file does not block
// indexing of the rest: valid documents are returned, the bad one is
// reported with its path and reason.
func TestScan_MalformedIsolation(t *testing.T) {
	root := t.TempDir()

	var validIDs []string
	for i := 0; i < 10; i++ {
		doc := testTask(t)
		path, err := CanonicalPath(root, doc)
		if err != nil {
			t.Fatalf("CanonicalPath() failed: %v", err)
		}
		if err := WriteFile(path, doc); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
		validIDs = append(validIDs, doc.ID)
	}

	// One task with an invalid status enum.
	bad := testTask(t)
	bad.Fields["status"] = "not-a-status"
	badPath := filepath.Join(root, TasksDir, "active", "task-"+bad.ID+".md")
	if err := WriteFile(badPath, bad); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	files, skipped, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(files) != 10 {
		t.Errorf("indexed %d documents, want 10", len(files))
	}
	if len(skipped) != 1 {
		t.Fatalf("skipped %d files, want 1", len(skipped))
	}
	if skipped[0].Path != badPath {
		t.Errorf("skipped path = %q, want %q", skipped[0].Path, badPath)
	}
	if !strings.Contains(skipped[0].Reason, "status") {
		t.Errorf("skip reason %q should mention the status field", skipped[0].Reason)
	}
}

func TestScan_EmptyVault(t *testing.T) {
	files, skipped, err := Scan(t.TempDir())
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(files) != 0 || len(skipped) != 0 {
		t.Errorf("empty vault: files=%d skipped=%d", len(files), len(skipped))
	}
}

// TestFindFile_AfterMove verifies lookup by id regardless of which
// lifecycle folder the file currently lives in.
func TestFindFile_AfterMove(t *testing.T) {
	root := t.TempDir()
	doc := testTask(t)
	doc.Set("status", TaskStatusCompleted)
	doc.Set("completed_at", "2026-07-04T12:00:00Z")

	path, err := CanonicalPath(root, doc)
	if err != nil {
		t.Fatalf("CanonicalPath() failed: %v", err)
	}
	if err := WriteFile(path, doc); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	found, err := FindFile(root, KindTask, doc.ID)
	if err != nil {
		t.Fatalf("FindFile() failed: %v", err)
	}
	if found != path {
		t.Errorf("FindFile() = %q, want %q", found, path)
	}

	missing, err := FindFile(root, KindTask, NewID())
	if err != nil {
		t.Fatalf("FindFile() failed: %v", err)
	}
	if missing != "" {
		t.Errorf("FindFile() for unknown id = %q, want empty", missing)
	}
}

func TestDecodeTask_Defaults(t *testing.T) {
	doc := testTask(t)
	delete(doc.Fields, "priority")
	task := DecodeTask(File{Path: "/vault/x.md", Doc: doc})
	if task.Priority != PriorityMedium {
		t.Errorf("default priority = %q, want %q", task.Priority, PriorityMedium)
	}
	if task.FilePath != "/vault/x.md" {
		t.Errorf("FilePath = %q", task.FilePath)
	}
}

func TestWriteFile_CreatesParents(t *testing.T) {
	root := t.TempDir()
	doc := testTask(t)
	path := filepath.Join(root, TasksDir, "active", FileName(doc))
	if err := WriteFile(path, doc); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not written: %v", err)
	}
}
