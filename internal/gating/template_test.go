package gating

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTemplate = `alias,pop,parent,dims,method,args
# dump gate first, everything hangs off it
Live,-,root,LIVE,mindensity,
CD3+,+,Live,CD3,mindensity,min=200;max=800
Lymph,,root,"FSC-A,SSC-A",boundary,xmin=20000;xmax=150000;ymin=5000;ymax=100000
*,,CD3+,"CD4,CD8",quad,
`

func TestParseTemplate(t *testing.T) {
	tpl, err := ParseTemplate(strings.NewReader(sampleTemplate))
	require.NoError(t, err)
	require.Len(t, tpl.Rows, 4)

	live := tpl.Rows[0]
	assert.Equal(t, "Live", live.Alias)
	assert.Equal(t, "-", live.Pop)
	assert.Equal(t, "root", live.Parent)
	assert.Equal(t, []string{"LIVE"}, live.Dims)
	assert.Equal(t, MethodMindensity, live.Method)
	assert.Nil(t, live.Args)

	cd3 := tpl.Rows[1]
	assert.Equal(t, map[string]string{"min": "200", "max": "800"}, cd3.Args)

	lymph := tpl.Rows[2]
	assert.Equal(t, []string{"FSC-A", "SSC-A"}, lymph.Dims)
	assert.Equal(t, MethodBoundary, lymph.Method)

	quad := tpl.Rows[3]
	assert.Equal(t, "*", quad.Alias)
	assert.Equal(t, MethodQuad, quad.Method)
}

func TestParseTemplateSplitPop(t *testing.T) {
	tpl, err := ParseTemplate(strings.NewReader(`alias,pop,parent,dims,method,args
CD3,+/-,root,CD3,mindensity,
*,+/-,root,CD4,quantile,q=0.5
`))
	require.NoError(t, err)
	require.Len(t, tpl.Rows, 2)
	assert.Equal(t, "+/-", tpl.Rows[0].Pop)
	assert.Equal(t, "+/-", tpl.Rows[1].Pop)
}

func TestParseTemplateColumnOrderIndependent(t *testing.T) {
	csv := `method,dims,alias,parent
mindensity,CD3,CD3+,root
`
	tpl, err := ParseTemplate(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, tpl.Rows, 1)
	assert.Equal(t, "CD3+", tpl.Rows[0].Alias)
	assert.Equal(t, "", tpl.Rows[0].Pop)
}

func TestParseTemplateErrors(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		wantErr string
	}{
		{
			name:    "missing column",
			csv:     "alias,parent,method\nx,root,mindensity\n",
			wantErr: `missing the "dims" column`,
		},
		{
			name:    "no gates",
			csv:     "alias,pop,parent,dims,method,args\n",
			wantErr: "no gates",
		},
		{
			name:    "missing alias",
			csv:     "alias,pop,parent,dims,method,args\n,,root,CD3,mindensity,\n",
			wantErr: "missing alias",
		},
		{
			name:    "slash in alias",
			csv:     "alias,pop,parent,dims,method,args\na/b,,root,CD3,mindensity,\n",
			wantErr: "contains '/'",
		},
		{
			name:    "bad pop",
			csv:     "alias,pop,parent,dims,method,args\nx,++,root,CD3,mindensity,\n",
			wantErr: `pop "++"`,
		},
		{
			name:    "split pop with a geometric method",
			csv:     "alias,pop,parent,dims,method,args\nx,+/-,root,CD3,boundary,min=100\n",
			wantErr: `pop "+/-" needs a threshold method`,
		},
		{
			name:    "unknown method",
			csv:     "alias,pop,parent,dims,method,args\nx,,root,CD3,flowclust,\n",
			wantErr: "unknown method",
		},
		{
			name:    "missing method",
			csv:     "alias,pop,parent,dims,method,args\nx,,root,CD3,,\n",
			wantErr: "missing method",
		},
		{
			name:    "mindensity needs one dim",
			csv:     "alias,pop,parent,dims,method,args\nx,,root,\"CD3,CD4\",mindensity,\n",
			wantErr: "exactly one dim",
		},
		{
			name:    "quad needs two dims",
			csv:     "alias,pop,parent,dims,method,args\n*,,root,CD3,quad,\n",
			wantErr: "exactly two dims",
		},
		{
			name:    "bad args",
			csv:     "alias,pop,parent,dims,method,args\nx,,root,CD3,quantile,q\n",
			wantErr: "want key=value",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTemplate(strings.NewReader(tt.csv))
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParseArgs(t *testing.T) {
	args, err := parseArgs("Q=0.95; min = 10 ;max=20")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"q": "0.95", "min": "10", "max": "20"}, args)

	args, err = parseArgs("")
	require.NoError(t, err)
	assert.Nil(t, args)
}
