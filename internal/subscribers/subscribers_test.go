package subscribers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var testDefaults = Thresholds{Floor: 1.0, Ceiling: 100.0}

func newTestRegistry(t *testing.T, contents string, now time.Time) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subscribers.json")
	if contents != "" {
		if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	r, err := NewRegistry(Options{
		Path:     path,
		Defaults: testDefaults,
		Now:      func() time.Time { return now },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r, path
}

func readDocument(t *testing.T, path string) map[string]map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	var doc struct {
		Subscribers map[string]map[string]any `json:"subscribers"`
		ChatIDs     []int64                   `json:"chat_ids"`
		GroupIDs    []int64                   `json:"group_ids"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode store: %v", err)
	}
	if doc.ChatIDs != nil || doc.GroupIDs != nil {
		t.Fatalf("canonical document must not carry legacy keys: %s", raw)
	}
	return doc.Subscribers
}

func TestMigrateFlatChatIDs(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r, path := newTestRegistry(t, `{"chat_ids":[1,2]}`, now)

	for _, id := range []int64{1, 2} {
		sub, ok := r.Get(id)
		if !ok {
			t.Fatalf("id %d missing after migration", id)
		}
		if sub.Kind != KindUser || sub.Expiry != LifetimeExpiry {
			t.Fatalf("id %d: want lifetime user, got %+v", id, sub)
		}
		if sub.Floor != nil || sub.Ceiling != nil {
			t.Fatalf("id %d: migrated record must inherit default thresholds", id)
		}
	}

	// Migration persists the canonical shape immediately.
	doc := readDocument(t, path)
	if len(doc) != 2 {
		t.Fatalf("canonical document should hold 2 records, got %d", len(doc))
	}
	if doc["1"]["kind"] != "user" {
		t.Fatalf("record 1 not canonical: %+v", doc["1"])
	}
}

func TestMigrateGroupIDsAndBareExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r, path := newTestRegistry(t, `{"group_ids":[-500],"subscribers":{"7":1800000000}}`, now)

	group, ok := r.Get(-500)
	if !ok || group.Kind != KindGroup || group.Expiry != LifetimeExpiry {
		t.Fatalf("group record wrong: %+v ok=%v", group, ok)
	}

	user, ok := r.Get(7)
	if !ok || user.Kind != KindUser || user.Expiry != 1800000000 {
		t.Fatalf("bare-expiry record wrong: %+v ok=%v", user, ok)
	}

	doc := readDocument(t, path)
	if _, isNumber := doc["7"]["expiry"].(float64); !isNumber {
		t.Fatalf("record 7 not rewritten as object: %+v", doc["7"])
	}
}

func TestMigrateCanonicalWinsOverLegacy(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	contents := `{"chat_ids":[9],"subscribers":{"9":{"kind":"user","expiry":1900000000,"floor":2.5,"ceiling":null}}}`
	r, _ := newTestRegistry(t, contents, now)

	sub, ok := r.Get(9)
	if !ok {
		t.Fatal("id 9 missing")
	}
	if sub.Expiry != 1900000000 {
		t.Fatalf("canonical record must win over legacy list, got expiry %d", sub.Expiry)
	}
	if sub.Floor == nil || *sub.Floor != 2.5 {
		t.Fatalf("custom floor lost: %+v", sub)
	}
}

func TestMigrateTypeFieldAlias(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r, path := newTestRegistry(t, `{"subscribers":{"-42":{"type":"group","expiry":0,"floor":null,"ceiling":null}}}`, now)

	sub, ok := r.Get(-42)
	if !ok || sub.Kind != KindGroup {
		t.Fatalf("type-keyed record wrong: %+v ok=%v", sub, ok)
	}

	doc := readDocument(t, path)
	if doc["-42"]["kind"] != "group" {
		t.Fatalf("record must be rewritten with the kind field: %+v", doc["-42"])
	}
}

func TestCanonicalLoadDoesNotRewrite(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	contents := `{"subscribers":{"3":{"kind":"user","expiry":0,"floor":null,"ceiling":null}}}`
	path := filepath.Join(t.TempDir(), "subscribers.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	before, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewRegistry(Options{Path: path, Defaults: testDefaults, Now: func() time.Time { return now }}, zerolog.Nop()); err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	after, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) || after.Size() != before.Size() {
		t.Fatal("a canonical store must load without being rewritten")
	}
}

func TestIsActive(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	contents := `{"subscribers":{
		"1":{"kind":"user","expiry":0},
		"2":{"kind":"user","expiry":1700000600},
		"3":{"kind":"user","expiry":1699999999}
	}}`
	r, _ := newTestRegistry(t, contents, now)

	if !r.IsActive(1) {
		t.Fatal("lifetime subscriber must be active")
	}
	if !r.IsActive(2) {
		t.Fatal("future expiry must be active")
	}
	if r.IsActive(3) {
		t.Fatal("past expiry must be inactive")
	}
	if r.IsActive(99) {
		t.Fatal("unknown id must be inactive")
	}
}

func TestActivateExtendsFromCurrentExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tenDays := now.Unix() + 10*86400
	contents := `{"subscribers":{"4":{"kind":"user","expiry":` + strconv.FormatInt(tenDays, 10) + `}}}`
	r, _ := newTestRegistry(t, contents, now)

	got := r.Activate(4, 30)
	want := tenDays + 30*86400
	if got != want {
		t.Fatalf("renewal must stack on the remaining time: want %d, got %d", want, got)
	}
}

func TestActivateLapsedStartsFromNow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	contents := `{"subscribers":{"5":{"kind":"user","expiry":100}}}`
	r, _ := newTestRegistry(t, contents, now)

	got := r.Activate(5, 30)
	want := now.Unix() + 30*86400
	if got != want {
		t.Fatalf("lapsed renewal starts from now: want %d, got %d", want, got)
	}
}

func TestActivateCreatesRecord(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r, path := newTestRegistry(t, "", now)

	got := r.Activate(6, 7)
	if got != now.Unix()+7*86400 {
		t.Fatalf("new activation wrong expiry: %d", got)
	}
	sub, ok := r.Get(6)
	if !ok || sub.Kind != KindUser {
		t.Fatalf("activation must create a user record: %+v ok=%v", sub, ok)
	}

	doc := readDocument(t, path)
	if len(doc) != 1 {
		t.Fatalf("activation must persist: %+v", doc)
	}
}

func TestThresholdsFallBackToDefaults(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	contents := `{"subscribers":{"8":{"kind":"user","expiry":0,"floor":3.5,"ceiling":null}}}`
	r, _ := newTestRegistry(t, contents, now)

	th := r.Thresholds(8)
	if th.Floor != 3.5 {
		t.Fatalf("custom floor not applied: %+v", th)
	}
	if th.Ceiling != testDefaults.Ceiling {
		t.Fatalf("unset ceiling must inherit default: %+v", th)
	}

	if th := r.Thresholds(404); th != testDefaults {
		t.Fatalf("unknown id must see defaults: %+v", th)
	}
}

func TestSetThresholdsUnknownIDIsNoop(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r, _ := newTestRegistry(t, "", now)

	f := 2.0
	if err := r.SetThresholds(123, &f, nil); err != nil {
		t.Fatalf("unknown id must be a silent no-op: %v", err)
	}
	if _, ok := r.Get(123); ok {
		t.Fatal("no-op must not create a record")
	}
}

func TestSetThresholdsRejectsInvertedPair(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	contents := `{"subscribers":{"9":{"kind":"user","expiry":0,"floor":2,"ceiling":5}}}`
	r, _ := newTestRegistry(t, contents, now)

	bad := 6.0
	if err := r.SetThresholds(9, &bad, nil); err == nil {
		t.Fatal("floor above the effective ceiling must be rejected")
	}

	sub, _ := r.Get(9)
	if *sub.Floor != 2 || *sub.Ceiling != 5 {
		t.Fatalf("rejected update must leave prior thresholds unchanged: %+v", sub)
	}
}

func TestSetThresholdsPartialUpdate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	contents := `{"subscribers":{"10":{"kind":"user","expiry":0}}}`
	r, _ := newTestRegistry(t, contents, now)

	f := 0.5
	if err := r.SetThresholds(10, &f, nil); err != nil {
		t.Fatalf("partial update failed: %v", err)
	}
	sub, _ := r.Get(10)
	if sub.Floor == nil || *sub.Floor != 0.5 {
		t.Fatalf("floor not stored: %+v", sub)
	}
	if sub.Ceiling != nil {
		t.Fatalf("ceiling must remain inherited: %+v", sub)
	}
}

func TestResetThresholds(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	contents := `{"subscribers":{"11":{"kind":"user","expiry":0,"floor":2,"ceiling":5}}}`
	r, _ := newTestRegistry(t, contents, now)

	r.ResetThresholds(11)
	sub, _ := r.Get(11)
	if sub.Floor != nil || sub.Ceiling != nil {
		t.Fatalf("reset must drop custom thresholds: %+v", sub)
	}
}

func TestAddGroupAndRemove(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r, _ := newTestRegistry(t, "", now)

	if !r.AddGroup(-900) {
		t.Fatal("first AddGroup must report true")
	}
	if r.AddGroup(-900) {
		t.Fatal("repeat AddGroup must report false")
	}
	if got := r.Groups(); len(got) != 1 || got[0] != -900 {
		t.Fatalf("Groups wrong: %v", got)
	}
	if !r.IsActive(-900) {
		t.Fatal("groups are lifetime recipients")
	}

	if !r.Remove(-900) {
		t.Fatal("Remove must report true for an existing record")
	}
	if r.Remove(-900) {
		t.Fatal("Remove must report false for a missing record")
	}
}

func TestCountsSkipLapsedTimedUsers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	contents := `{"subscribers":{
		"1":{"kind":"user","expiry":0},
		"2":{"kind":"user","expiry":1700000600},
		"3":{"kind":"user","expiry":1699999999},
		"-500":{"kind":"group","expiry":0}
	}}`
	r, _ := newTestRegistry(t, contents, now)

	got := r.Counts()
	want := Tally{Lifetime: 1, Timed: 1, Groups: 1}
	if got != want {
		t.Fatalf("Counts = %+v, want %+v", got, want)
	}
}

func TestPersistenceFailureKeepsMemoryAuthoritative(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	dir := t.TempDir()
	path := filepath.Join(dir, "missing", "subscribers.json")

	r, err := NewRegistry(Options{Path: path, Defaults: testDefaults, Now: func() time.Time { return now }}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	// The parent directory does not exist, so every save fails; the
	// mutation must still land in memory.
	expiry := r.Activate(77, 30)
	if expiry != now.Unix()+30*86400 {
		t.Fatalf("activation expiry wrong: %d", expiry)
	}
	if !r.IsActive(77) {
		t.Fatal("in-memory state must stay authoritative after a failed save")
	}
}
