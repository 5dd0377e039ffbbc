package command

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adamavenir/frayline/internal/db"
	"github.com/adamavenir/frayline/internal/types"
)

func initProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	if _, errOut, err := executeCommand(t, "init", "--channel", "room", "--username", "@alice"); err != nil {
		t.Fatalf("init: %v (%s)", err, errOut)
	}
	return dir
}

func runJSON(t *testing.T, target any, args ...string) {
	t.Helper()
	out, errOut, err := executeCommand(t, append(args, "--json")...)
	if err != nil {
		t.Fatalf("%v: %v (%s)", args, err, errOut)
	}
	if err := json.Unmarshal([]byte(out), target); err != nil {
		t.Fatalf("%v: decode %q: %v", args, out, err)
	}
}

func TestInitTwiceNeedsForce(t *testing.T) {
	initProject(t)
	if _, errOut, err := executeCommand(t, "init"); err == nil || !strings.Contains(errOut, "--force") {
		t.Fatalf("expected already-initialized error, got %v (%s)", err, errOut)
	}
	if _, errOut, err := executeCommand(t, "init", "--force"); err != nil {
		t.Fatalf("init --force: %v (%s)", err, errOut)
	}
}

func TestCommandsOutsideProjectFail(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, errOut, err := executeCommand(t, "history"); err == nil || !strings.Contains(errOut, "frayline init") {
		t.Fatalf("expected init hint, got %v (%s)", err, errOut)
	}
}

func TestPostEditReactRemoveFlow(t *testing.T) {
	dir := initProject(t)

	var first, second types.MessageRecord
	runJSON(t, &first, "post", "hello", "there")
	runJSON(t, &second, "post", "--as", "bob", "hi alice")
	if first.FromAgent != "alice" || first.Body != "hello there" || first.ChannelID != "room" {
		t.Fatalf("unexpected first post %+v", first)
	}
	if second.FromAgent != "bob" {
		t.Fatalf("--as not applied: %+v", second)
	}

	var edited types.MessageRecord
	runJSON(t, &edited, "edit", first.ID, "hello again")
	if edited.Body != "hello again" || edited.EditedAt == nil {
		t.Fatalf("unexpected edit %+v", edited)
	}
	if _, errOut, err := executeCommand(t, "edit", second.ID, "not mine"); err == nil || !strings.Contains(errOut, "@bob") {
		t.Fatalf("expected ownership error, got %v (%s)", err, errOut)
	}

	if _, errOut, err := executeCommand(t, "react", "#"+second.ID, "+1"); err != nil {
		t.Fatalf("react: %v (%s)", err, errOut)
	}
	if _, errOut, err := executeCommand(t, "rm", first.ID); err != nil {
		t.Fatalf("rm: %v (%s)", err, errOut)
	}

	var page historyPayload
	runJSON(t, &page, "history")
	if len(page.Messages) != 1 || page.Messages[0].ID != second.ID {
		t.Fatalf("expected only the surviving message, got %+v", page.Messages)
	}
	if got := page.Messages[0].Reactions["+1"]; len(got) != 1 || got[0] != "alice" {
		t.Fatalf("unexpected reactions %v", page.Messages[0].Reactions)
	}

	runJSON(t, &page, "history", "--deleted")
	if len(page.Messages) != 2 {
		t.Fatalf("expected tombstone included, got %+v", page.Messages)
	}
	for _, msg := range page.Messages {
		if msg.ID == first.ID && (!msg.Deleted() || msg.Body != "") {
			t.Fatalf("expected empty tombstone, got %+v", msg)
		}
	}

	events, _, err := db.ReadEventsFrom(filepath.Join(dir, ".frayline", "events.jsonl"), 0)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, string(ev.Kind))
	}
	want := []string{
		string(types.EventMessageCreated),
		string(types.EventMessageCreated),
		string(types.EventMessageUpdated),
		string(types.EventReactionAdded),
		string(types.EventMessageDeleted),
	}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Fatalf("event log kinds = %v, want %v", kinds, want)
	}
}

func TestHistoryTextOutput(t *testing.T) {
	initProject(t)
	for _, body := range []string{"one", "two", "three"} {
		if _, errOut, err := executeCommand(t, "post", body); err != nil {
			t.Fatalf("post: %v (%s)", err, errOut)
		}
	}

	out, _, err := executeCommand(t, "history", "--last", "2")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected two messages and a more hint, got %q", out)
	}
	for _, line := range lines[:2] {
		if !strings.HasPrefix(line, "#") || !strings.Contains(line, "@alice: ") {
			t.Fatalf("unexpected message line %q", line)
		}
	}
	if !strings.HasPrefix(lines[2], "(older messages: --before #") {
		t.Fatalf("missing more hint %q", lines[2])
	}
}

func TestChatRequiresTerminal(t *testing.T) {
	initProject(t)
	stdin, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	defer stdin.Close()
	orig := os.Stdin
	os.Stdin = stdin
	defer func() { os.Stdin = orig }()

	if _, errOut, err := executeCommand(t, "chat"); err == nil || !strings.Contains(errOut, "interactive terminal") {
		t.Fatalf("expected terminal error, got %v (%s)", err, errOut)
	}
}
