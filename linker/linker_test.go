package linker

import (
	"fmt"
	"testing"
)

func sources(mods map[string]string) Loader {
	return func(path string) (string, error) {
		src, ok := mods[path]
		if !ok {
			return "", fmt.Errorf("no such module %q", path)
		}
		return src, nil
	}
}

func TestLinkTwoModulesCrossModuleCall(t *testing.T) {
	mods := map[string]string{
		"app": "import mathutil\n\ndef main() -> int:\n    return mathutil.add(3, 4)\n",
		"mathutil": "def add(a: int, b: int) -> int:\n    return a + b\n",
	}
	bc, err := Link("app", sources(mods))
	if err != nil {
		t.Fatalf("link error: %v", err)
	}
	if bc.EntryFn < 0 {
		t.Fatal("expected a resolved entry function")
	}
	if len(bc.Functions) != 2 {
		t.Fatalf("expected 2 merged functions, got %d", len(bc.Functions))
	}
}

func TestLinkDetectsImportCycle(t *testing.T) {
	mods := map[string]string{
		"a": "import b\n\ndef main() -> int:\n    return b.f()\n",
		"b": "import a\n\ndef f() -> int:\n    return 0\n",
	}
	_, err := Link("a", sources(mods))
	if err == nil {
		t.Fatal("expected an import cycle error")
	}
}

func TestLinkRejectsUnknownImport(t *testing.T) {
	mods := map[string]string{
		"app": "import missing\n\ndef main() -> int:\n    return missing.f()\n",
	}
	_, err := Link("app", sources(mods))
	if err == nil {
		t.Fatal("expected a load error for the missing module")
	}
}
