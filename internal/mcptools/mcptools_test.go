package mcptools

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnetctl/qnetctl/internal/command"
	"github.com/qnetctl/qnetctl/internal/database"
	"github.com/qnetctl/qnetctl/internal/testutil/testlog"
)

const testCatalog = `<?xml version="1.0"?>
<Project>
  <DbExportDate>04/25/2024</DbExportDate>
  <DbExportTime>10:30:00</DbExportTime>
  <Areas>
    <Area IntegrationID="0" Name="Root" SortOrder="0">
      <Areas>
        <Area IntegrationID="3" Name="Living Room" SortOrder="1">
          <Outputs>
            <Output IntegrationID="25" Name="Ceiling Light" OutputType="INC" SortOrder="1"/>
            <Output IntegrationID="26" Name="Bay Window" OutputType="SYSTEM_SHADE" SortOrder="2"/>
          </Outputs>
        </Area>
        <Area IntegrationID="4" Name="Kitchen" SortOrder="2">
          <Outputs>
            <Output IntegrationID="30" Name="Island Pendants" OutputType="INC" SortOrder="1"/>
          </Outputs>
        </Area>
      </Areas>
    </Area>
  </Areas>
</Project>`

// fakeController records formatted commands and replays canned results.
type fakeController struct {
	mu      sync.Mutex
	calls   []string
	results map[string]any
}

func (f *fakeController) ExecuteCommand(_ context.Context, cmd *command.Command) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd.Formatted())
	if f.results != nil {
		if v, ok := f.results[cmd.Formatted()]; ok {
			return v, nil
		}
	}
	return nil, nil
}

func (f *fakeController) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func testDatabase(t *testing.T) *database.Database {
	t.Helper()
	db := database.New(nil)
	db.ApplyTypeMap(map[string]string{
		"light": "INC",
		"shade": "SYSTEM_SHADE",
	})
	require.NoError(t, db.LoadBytes([]byte(testCatalog)))
	return db
}

func setupSession(t *testing.T, ctrl Controller) *mcp.ClientSession {
	t.Helper()
	testlog.Start(t)

	s := New(ctrl, testDatabase(t), Config{
		Version: "test",
		TypeMap: map[string]string{
			"light": "INC",
			"shade": "SYSTEM_SHADE",
		},
		Synonyms: map[string][]string{
			"light": {"lamp", "fixture"},
		},
	})

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- s.run(ctx, serverTransport)
	}()
	t.Cleanup(func() {
		cancel()
		<-serverDone
	})

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestListTools(t *testing.T) {
	session := setupSession(t, &fakeController{})

	result, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make(map[string]bool, len(result.Tools))
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"get_areas", "get_outputs", "get_output_by_iid",
		"get_custom_output_subtypes", "get_outputs_by_subtype",
		"find_outputs_by_subtype", "find_areas_by_area_name",
		"find_outputs_by_output_name", "get_output_level",
		"set_output_level", "get_area_level", "set_area_level",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
	assert.Len(t, result.Tools, 12)
}

func TestGetAreas(t *testing.T) {
	session := setupSession(t, &fakeController{})

	result := callTool(t, session, "get_areas", nil)
	require.False(t, result.IsError)

	var areas []database.Area
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &areas))
	require.Len(t, areas, 3)
	assert.Equal(t, "Root / Living Room", areas[1].Path)
}

func TestGetOutputByIID(t *testing.T) {
	session := setupSession(t, &fakeController{})

	result := callTool(t, session, "get_output_by_iid", map[string]any{"iid": 25})
	require.False(t, result.IsError)
	var output database.Output
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &output))
	assert.Equal(t, "Ceiling Light", output.Name)
	assert.Equal(t, "light", output.OutputType)

	missing := callTool(t, session, "get_output_by_iid", map[string]any{"iid": 999})
	assert.True(t, missing.IsError)
}

func TestGetCustomOutputSubtypes(t *testing.T) {
	session := setupSession(t, &fakeController{})

	result := callTool(t, session, "get_custom_output_subtypes", nil)
	require.False(t, result.IsError)
	var subtypes []string
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &subtypes))
	assert.Equal(t, []string{"light", "shade"}, subtypes)
}

func TestGetOutputsBySubtype(t *testing.T) {
	session := setupSession(t, &fakeController{})

	result := callTool(t, session, "get_outputs_by_subtype", map[string]any{"subtype": "Light"})
	require.False(t, result.IsError)
	var outputs []database.Output
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &outputs))
	assert.Len(t, outputs, 2)

	bogus := callTool(t, session, "get_outputs_by_subtype", map[string]any{"subtype": "toaster"})
	assert.True(t, bogus.IsError)
	assert.Contains(t, resultText(t, bogus), "light, shade")
}

func TestFindOutputsByOutputNameWithSynonyms(t *testing.T) {
	session := setupSession(t, &fakeController{})

	// "lamp" expands to the light synonym set and matches "Ceiling Light".
	result := callTool(t, session, "find_outputs_by_output_name", map[string]any{"name": "ceiling lamp"})
	require.False(t, result.IsError)
	var outputs []database.Output
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &outputs))
	require.Len(t, outputs, 1)
	assert.EqualValues(t, 25, outputs[0].IID)

	// Word order matters: the path never has "light" before "living".
	none := callTool(t, session, "find_outputs_by_output_name", map[string]any{"name": "lamp living"})
	require.False(t, none.IsError)
	assert.Equal(t, "null", resultText(t, none))
}

func TestFindAreasByAreaName(t *testing.T) {
	session := setupSession(t, &fakeController{})

	result := callTool(t, session, "find_areas_by_area_name", map[string]any{"name": "living"})
	require.False(t, result.IsError)
	var areas []database.Area
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &areas))
	require.Len(t, areas, 1)
	assert.EqualValues(t, 3, areas[0].IID)
}

func TestFindOutputsBySubtype(t *testing.T) {
	session := setupSession(t, &fakeController{})

	result := callTool(t, session, "find_outputs_by_subtype", map[string]any{
		"subtype": "light",
		"name":    "kitchen",
	})
	require.False(t, result.IsError)
	var outputs []database.Output
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &outputs))
	require.Len(t, outputs, 1)
	assert.Equal(t, "Island Pendants", outputs[0].Name)
}

func TestGetOutputLevel(t *testing.T) {
	ctrl := &fakeController{results: map[string]any{"?OUTPUT,25,1": 75.5}}
	session := setupSession(t, ctrl)

	result := callTool(t, session, "get_output_level", map[string]any{"iid": 25})
	require.False(t, result.IsError)
	assert.Equal(t, "75.5", resultText(t, result))
	assert.Equal(t, []string{"?OUTPUT,25,1"}, ctrl.sent())
}

func TestSetOutputLevelValidatesRange(t *testing.T) {
	ctrl := &fakeController{}
	session := setupSession(t, ctrl)

	result := callTool(t, session, "set_output_level", map[string]any{"iid": 25, "level": 150})
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not between 0 and 100")
	assert.Empty(t, ctrl.sent())

	ok := callTool(t, session, "set_output_level", map[string]any{"iid": 25, "level": 50})
	require.False(t, ok.IsError)
	assert.Equal(t, []string{"#OUTPUT,25,1,50.0"}, ctrl.sent())
}

func TestAreaLevelTools(t *testing.T) {
	ctrl := &fakeController{results: map[string]any{
		"?AREA,3,1": command.AreaLevels{
			AverageLevel: 75,
			Outputs: []command.OutputLevel{
				{IID: 25, Level: 50},
				{IID: 26, Level: 100},
			},
		},
	}}
	session := setupSession(t, ctrl)

	result := callTool(t, session, "get_area_level", map[string]any{"area_id": 3})
	require.False(t, result.IsError)
	var levels command.AreaLevels
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &levels))
	assert.Equal(t, 75.0, levels.AverageLevel)
	assert.Len(t, levels.Outputs, 2)

	set := callTool(t, session, "set_area_level", map[string]any{"area_id": 3, "level": 40})
	require.False(t, set.IsError)
	assert.Contains(t, ctrl.sent(), "#AREA,3,1,40.0")

	missing := callTool(t, session, "get_area_level", map[string]any{"area_id": 999})
	assert.True(t, missing.IsError)
}
