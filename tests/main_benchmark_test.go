// System-wide benchmarks: measures the performance of the whole pipeline
// (parse + check + compile + run) under sustained load.
package main

import (
	"strings"
	"testing"
)

// BenchmarkSystem_HeavyLoop measures the cost of a tight iterative loop.
func BenchmarkSystem_HeavyLoop(b *testing.B) {
	src := "def main() -> int:\n" +
		"    let sum: int = 0\n" +
		"    let counter: int = 0\n" +
		"    while counter < 1000:\n" +
		"        sum = sum + 1\n" +
		"        counter = counter + 1\n" +
		"    return sum\n"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		runCode(src)
	}
}

// BenchmarkSystem_DeepRecursion measures call-frame overhead.
func BenchmarkSystem_DeepRecursion(b *testing.B) {
	src := "def dive(n: int) -> int:\n" +
		"    if n == 0: return 0\n" +
		"    return dive(n - 1)\n" +
		"def main() -> int:\n" +
		"    return dive(200)\n"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		runCode(src)
	}
}

// BenchmarkSystem_StringConcatenation measures allocation overhead of
// repeated string concatenation.
func BenchmarkSystem_StringConcatenation(b *testing.B) {
	var body strings.Builder
	body.WriteString("def main() -> int:\n")
	body.WriteString("    let s: str = \"\"\n")
	for i := 0; i < 100; i++ {
		body.WriteString("    s = s + \"a\"\n")
	}
	body.WriteString("    return 0\n")
	src := body.String()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		runCode(src)
	}
}
