package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statementCSV = `Date,Description,Amount,Account
01/31/2024,Coffee Shop,-4.50,1
01/15/2024,Paycheck,1000.00,1
`

// runCLI runs the command in-process with an isolated home directory
func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PREIMPORT_PERSONAL_ACCESS_TOKEN", "")
	t.Setenv("PREIMPORT_IMPORT_SECRET", "")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRun_Version(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "-version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "preimport version "+version)
}

func TestRun_UsageErrors(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "a.csv", statementCSV)
	second := writeFile(t, dir, "b.csv", statementCSV)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no inputs", args: nil, want: "at least one input"},
		{name: "broker without upload", args: []string{"-broker", input}, want: "-broker requires -upload"},
		{name: "dry-run without upload", args: []string{"-dry-run", input}, want: "-dry-run requires -upload"},
		{name: "verbose and quiet", args: []string{"-verbose", "-quiet", input}, want: "mutually exclusive"},
		{name: "stdout with two inputs", args: []string{"-stdout", input, second}, want: "single input"},
		{name: "stdout with output", args: []string{"-stdout", "-output", filepath.Join(dir, "x.csv"), input}, want: "incompatible"},
		{name: "missing input", args: []string{filepath.Join(dir, "missing.csv")}, want: "missing.csv"},
		{name: "upload without config", args: []string{"-upload", input}, want: "not found"},
		{name: "unknown flag", args: []string{"-bogus", input}, want: "flag provided but not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, "", tt.args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, stderr, tt.want)
			assert.NotContains(t, stderr, "Error: Error:")
		})
	}
}

func TestRun_NormalizesFilesAndReportsFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", statementCSV)
	broken := writeFile(t, dir, "b.csv", "Date,Description,Amount\nnot-a-date,Coffee Shop,-4.50\n")
	writeFile(t, dir, "c.csv", statementCSV)

	code, stdout, stderr := runCLI(t, "", dir)
	assert.Equal(t, 1, code, "a failed file makes the run fail")
	assert.Contains(t, stderr, "2 succeeded, 1 failed, 0 skipped")
	assert.Contains(t, stderr, "Error: "+broken+": ")
	assert.NotContains(t, stderr, broken+": "+broken)
	assert.Contains(t, stdout, "a.csv: 2 transactions written to")
	assert.Contains(t, stdout, "[1/3] a.csv")
	assert.Contains(t, stdout, "[3/3] c.csv")
	assert.Contains(t, stdout, "preimport summary")

	for _, name := range []string{"a.firefly.csv", "c.firefly.csv"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Contains(t, string(data), "1,b51f0009f3373bd,2024-01-31,Coffee Shop,-4.50")
	}
}

func TestRun_Stdout(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "a.csv", statementCSV)

	code, stdout, _ := runCLI(t, "", "-stdout", "-account-id", "9", input)
	require.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout, "account_id,transaction_id,date,description,amount\n"))
	assert.Contains(t, stdout, "9,b51f0009f3373bd,2024-01-31,Coffee Shop,-4.50")
	assert.NotContains(t, stdout, "succeeded", "summaries go to stderr with -stdout")
}

func TestRun_LedgerUpload(t *testing.T) {
	transport := httpmock.NewMockTransport()
	httpTransport = transport
	t.Cleanup(func() { httpTransport = nil })

	const base = "https://ledger.test/api/v1"
	transport.RegisterResponderWithQuery(http.MethodGet, base+"/accounts", "type=asset&limit=50&page=1",
		httpmock.NewStringResponder(http.StatusOK,
			`{"data":[{"id":"1","attributes":{"name":"Checking","currency_code":"USD"}}],"links":{}}`))
	transport.RegisterResponder(http.MethodPost, base+"/tags",
		httpmock.NewStringResponder(http.StatusOK, `{}`))
	transport.RegisterResponder(http.MethodPost, base+"/transactions",
		httpmock.NewStringResponder(http.StatusOK,
			`{"data":{"id":"77","attributes":{"transactions":[{"transaction_journal_id":"701"}]}}}`))
	transport.RegisterResponder(http.MethodPut, base+"/transactions/77",
		httpmock.NewStringResponder(http.StatusOK, `{}`))

	dir := t.TempDir()
	input := writeFile(t, dir, "a.csv", statementCSV)
	cfgPath := writeFile(t, dir, "preimport.toml", fmt.Sprintf(`
ledger_api_base = %q
personal_access_token = "tok"
`, base))

	code, stdout, stderr := runCLI(t, "", "-config", cfgPath, "-upload", "-non-interactive", input)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "uploaded 2 of 2 transactions")

	info := transport.GetCallCountInfo()
	assert.Equal(t, 1, info["POST "+base+"/tags"])
	assert.Equal(t, 2, info["POST "+base+"/transactions"])
	assert.Equal(t, 2, info["PUT "+base+"/transactions/77"])
}

func TestRun_LedgerDryRunSendsNothing(t *testing.T) {
	transport := httpmock.NewMockTransport()
	httpTransport = transport
	t.Cleanup(func() { httpTransport = nil })

	const base = "https://ledger.test/api/v1"
	transport.RegisterResponderWithQuery(http.MethodGet, base+"/accounts", "type=asset&limit=50&page=1",
		httpmock.NewStringResponder(http.StatusOK,
			`{"data":[{"id":"1","attributes":{"name":"Checking"}},{"id":"2","attributes":{"name":"Savings"}}],"links":{}}`))

	dir := t.TempDir()
	input := writeFile(t, dir, "a.csv", "Date,Description,Amount\n01/31/2024,Coffee Shop,-4.50\n")
	cfgPath := writeFile(t, dir, "preimport.toml", fmt.Sprintf(`
ledger_api_base = %q
personal_access_token = "tok"
`, base))

	// "2" picks Savings from the prompt
	code, stdout, stderr := runCLI(t, "2\n", "-config", cfgPath, "-upload", "-dry-run", input)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stderr, "[2] Savings")
	assert.Contains(t, stderr, "Selected: Savings")
	assert.Contains(t, stdout, "dry-run")
	assert.Equal(t, 1, transport.GetTotalCallCount())

	assert.Contains(t, stderr, "a.csv: transaction b51f0009f3373bd (dry-run preview)")
	assert.Contains(t, stderr, `"source_id": 2`)
	assert.Contains(t, stderr, `"destination_name": "(no name)"`)
}

func TestRun_SkipAtPrompt(t *testing.T) {
	transport := httpmock.NewMockTransport()
	httpTransport = transport
	t.Cleanup(func() { httpTransport = nil })

	const base = "https://ledger.test/api/v1"
	transport.RegisterResponderWithQuery(http.MethodGet, base+"/accounts", "type=asset&limit=50&page=1",
		httpmock.NewStringResponder(http.StatusOK,
			`{"data":[{"id":"1","attributes":{"name":"Checking"}}],"links":{}}`))

	dir := t.TempDir()
	input := writeFile(t, dir, "a.csv", "Date,Description,Amount\n01/31/2024,Coffee Shop,-4.50\n")
	cfgPath := writeFile(t, dir, "preimport.toml", fmt.Sprintf(`
ledger_api_base = %q
personal_access_token = "tok"
`, base))

	code, stdout, _ := runCLI(t, "s\n", "-config", cfgPath, "-upload", input)
	assert.Equal(t, 0, code, "a skipped file is not a failure")
	assert.Contains(t, stdout, "0 succeeded, 0 failed, 1 skipped")
}
