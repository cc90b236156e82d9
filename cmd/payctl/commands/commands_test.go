package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBundle = `
tenant:
  identifier: acme
divisions:
  - name: Zurich
employees:
  - identifier: E1
    divisions: [Zurich]
    status: Active
regulations:
  - name: Base
    created: 2020-01-01
    objects:
      cases:
        - name: Salary
          caseType: Employee
      caseFields:
        - name: Salary
          caseName: Salary
          valueType: Money
      reports:
        - name: Payslip
          buildExpression: AddTable('Summary', ['employee', 'value'])
      collectors:
        - name: Gross
      wageTypes:
        - wageTypeNumber: 100
          name: Salary
          collectors: [Gross]
          valueExpression: return GetCaseValue('Salary')
payrolls:
  - name: Zurich Payroll
    division: Zurich
    layers:
      - {level: 1, priority: 1, regulationName: Base}
payruns:
  - name: Monthly
    payroll: Zurich Payroll
caseValues:
  - tier: Employee
    employee: E1
    caseFieldName: Salary
    valueType: Money
    value: "4200"
    start: 2024-01-01
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func bundleDir(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme.yaml"), []byte(content), 0o600))
	return dir
}

func TestValidateCommand(t *testing.T) {
	_, err := execute(t, "validate", bundleDir(t, testBundle))
	assert.NoError(t, err)

	out, err := execute(t, "validate", bundleDir(t, "tenant:\n  identifier: acme\npayruns:\n  - name: Monthly\n    payroll: Missing\n"))
	assert.Error(t, err)
	assert.Contains(t, out, "unknown payroll Missing")
}

func TestRunCommand(t *testing.T) {
	out, err := execute(t, "run", "--json", "-b", bundleDir(t, testBundle), "-t", "acme", "-r", "Monthly", "--period", "2024-03")
	require.NoError(t, err)

	var job struct {
		Job struct {
			JobStatus string `json:"jobStatus"`
		} `json:"job"`
		Results []struct {
			WageTypeResults []struct {
				Value decimal.Decimal `json:"value"`
			} `json:"wageTypeResults"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, "Complete", job.Job.JobStatus)
	require.Len(t, job.Results, 1)
	require.Len(t, job.Results[0].WageTypeResults, 1)
	assert.Equal(t, "4200", job.Results[0].WageTypeResults[0].Value.String())
}

func TestRunCommand_RequiresFlags(t *testing.T) {
	_, err := execute(t, "run", "-b", bundleDir(t, testBundle))
	assert.Error(t, err)
}

func TestResolveCommand(t *testing.T) {
	out, err := execute(t, "resolve", "--json", "-b", bundleDir(t, testBundle), "-t", "acme", "-p", "Zurich Payroll")
	require.NoError(t, err)

	var res resolution
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Layers, 1)
	assert.Equal(t, "Base", res.Layers[0].Regulation)
	assert.Contains(t, res.Objects, resolvedObject{Kind: "wagetype", Key: "100", Regulation: "Base"})
	assert.Contains(t, res.Objects, resolvedObject{Kind: "collector", Key: "Gross", Regulation: "Base"})
}

func TestCaseCommand_DefaultDate(t *testing.T) {
	out, err := execute(t, "case", "--json", "-b", bundleDir(t, testBundle), "-t", "acme", "-p", "Zurich Payroll",
		"--case", "Salary", "-e", "E1", "--field", "Salary=4300", "--start", "2024-04-01")
	require.NoError(t, err)

	var res struct {
		Available bool `json:"available"`
		Built     bool `json:"built"`
		Set       struct {
			Fields []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"fields"`
		} `json:"set"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Available)
	assert.True(t, res.Built)
	require.Len(t, res.Set.Fields, 1)
	assert.Equal(t, "Salary", res.Set.Fields[0].Name)
	assert.Equal(t, "4300", res.Set.Fields[0].Value)
}

func TestReportCommand_DefaultDate(t *testing.T) {
	out, err := execute(t, "report", "--json", "-b", bundleDir(t, testBundle), "-t", "acme", "-p", "Zurich Payroll",
		"--report", "Payslip")
	require.NoError(t, err)

	var res struct {
		Built  bool `json:"built"`
		Tables []struct {
			Name    string   `json:"name"`
			Columns []string `json:"columns"`
		} `json:"tables"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Built)
	require.Len(t, res.Tables, 1)
	assert.Equal(t, "Summary", res.Tables[0].Name)
	assert.Equal(t, []string{"employee", "value"}, res.Tables[0].Columns)
}

func TestLoadCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "payroll.db")
	_, err := execute(t, "migrate", "--db", db)
	require.NoError(t, err)

	out, err := execute(t, "load", "--json", "--db", db, bundleDir(t, testBundle))
	require.NoError(t, err)
	var summary map[string]map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 1, summary["acme"]["employees"])

	out, err = execute(t, "run", "--json", "--db", db, "-t", "acme", "-r", "Monthly", "--period", "2024-03")
	require.NoError(t, err)
	assert.Contains(t, out, `"Complete"`)
}

func TestParseDate(t *testing.T) {
	for _, v := range []string{"2024-03-01", "2024-03", "2024-03-01T00:00:00Z"} {
		d, err := parseDate(v, time.Time{})
		require.NoError(t, err, v)
		assert.Equal(t, "2024-03-01", d.Format("2006-01-02"))
	}
	_, err := parseDate("March", time.Time{})
	assert.Error(t, err)
}
