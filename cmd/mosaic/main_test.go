package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/mosaic"
	"github.com/airbusgeo/mosaic/gdalraster"
	wfv1 "github.com/argoproj/argo-workflows/v3/pkg/apis/workflow/v1alpha1"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"
)

func TestMain(m *testing.M) {
	godal.RegisterAll()
	os.Exit(m.Run())
}

func TestOutputDriver(t *testing.T) {
	cases := []struct {
		name, format string
		driver       godal.DriverName
	}{
		{"out.tif", "", godal.GTiff},
		{"OUT.TIFF", "", godal.GTiff},
		{"out", "", godal.GTiff},
		{"gs://bucket/dir/out.tif", "", godal.GTiff},
		{"out.nc", "", "netCDF"},
		{"out.img", "", "HFA"},
		{"out.xyz", "GTiff", godal.GTiff},
	}
	for _, c := range cases {
		drv, err := outputDriver(c.name, c.format)
		require.NoError(t, err, c.name)
		assert.Equal(t, c.driver, drv, c.name)
	}
	_, err := outputDriver("out.xyz", "")
	assert.Error(t, err)
}

func TestTermProgress(t *testing.T) {
	var buf bytes.Buffer
	p := newTermProgress(&buf)
	assert.Equal(t, "0", buf.String())
	p.Update(0.5)
	assert.Equal(t, "0...10...20...30...40...50", buf.String())
	p.Update(0.5)
	assert.Equal(t, "0...10...20...30...40...50", buf.String())
	p.Update(1)
	assert.Equal(t, "0...10...20...30...40...50...60...70...80...90...100 - done.\n", buf.String())

	buf.Reset()
	p = newTermProgress(&buf)
	for i := 1; i <= 3; i++ {
		p.Update(float64(i) / 3)
	}
	assert.Equal(t, "0...10...20...30...40...50...60...70...80...90...100 - done.\n", buf.String())
}

func TestParseGCS(t *testing.T) {
	b, o, err := parseGCS("gs://bucket/some/object.tif")
	require.NoError(t, err)
	assert.Equal(t, "bucket", b)
	assert.Equal(t, "some/object.tif", o)
	for _, bad := range []string{"bucket/object", "gs://bucket", "gs:///object"} {
		_, _, err = parseGCS(bad)
		assert.Error(t, err, bad)
	}
	assert.True(t, anyGCS([]string{"a.tif", "gs://b/c.tif"}))
	assert.False(t, anyGCS([]string{"a.tif"}))
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.tif", "a.tif", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
	inputs, err := expandInputs([]string{"first.tif", dir, "gs://bucket/x.tif"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"first.tif",
		filepath.Join(dir, "a.tif"),
		filepath.Join(dir, "b.tif"),
		"gs://bucket/x.tif",
	}, inputs)
}

func TestReadOptFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "opts")
	require.NoError(t, os.WriteFile(name, []byte("# inputs\n-o \"my out.tif\" --co COMPRESS=LZW\na.tif 'b c.tif'\n"), 0o644))
	args, err := readOptFile(name)
	require.NoError(t, err)
	assert.Equal(t, []string{"-o", "my out.tif", "--co", "COMPRESS=LZW", "a.tif", "b c.tif"}, args)

	_, err = readOptFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestMergeOptions(t *testing.T) {
	v := viper.New()
	cmd := newMergeCommand(v)
	require.NoError(t, cmd.Flags().Parse([]string{
		"-o", "x.tif", "-n", "nan", "--a_nodata", "255", "--init", "1,2 3",
		"--ot", "float32", "--co", "TILED=YES", "--co", "COMPRESS=LZW",
		"--separate", "--tap", "--pct", "--workers", "3",
	}))
	opts, err := mergeOptionsFrom(v)
	require.NoError(t, err)
	assert.Equal(t, "x.tif", opts.output)
	require.NotNil(t, opts.cfg.NoData)
	assert.True(t, math.IsNaN(*opts.cfg.NoData))
	require.NotNil(t, opts.cfg.AssignedNoData)
	assert.Equal(t, 255.0, *opts.cfg.AssignedNoData)
	assert.Equal(t, []float64{1, 2, 3}, opts.cfg.InitValues)
	assert.Equal(t, mosaic.Float32, opts.cfg.DataType)
	assert.Equal(t, []string{"TILED=YES", "COMPRESS=LZW"}, opts.cfg.CreationOptions)
	assert.True(t, opts.cfg.Separate)
	assert.True(t, opts.cfg.TargetAlignedPixels)
	assert.True(t, opts.cfg.CopyColorTable)
	assert.False(t, opts.cfg.CreateOnly)
	assert.Equal(t, 3, opts.cfg.Workers)
	assert.Equal(t, 8192*8192, opts.cfg.TargetPixelCount)

	v = viper.New()
	cmd = newMergeCommand(v)
	require.NoError(t, cmd.Flags().Parse([]string{"--ot", "Complex64"}))
	_, err = mergeOptionsFrom(v)
	assert.Error(t, err)

	v = viper.New()
	cmd = newMergeCommand(v)
	require.NoError(t, cmd.Flags().Parse([]string{"-n", "abc"}))
	_, err = mergeOptionsFrom(v)
	assert.Error(t, err)
}

func TestWorkflow(t *testing.T) {
	args := []string{"-o", "gs://bucket/out.tif", "--co", "COMPRESS=LZW", "gs://bucket/a.tif", "gs://bucket/b c.tif"}
	output, err := checkMergeArgs(args)
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/out.tif", output)
	_, err = checkMergeArgs([]string{"-o", "out.tif"})
	assert.Error(t, err)
	_, err = checkMergeArgs([]string{"--nosuchflag", "a.tif"})
	assert.Error(t, err)

	command := append([]string{"mosaic", "merge"}, args...)
	wf, err := mergeWorkflow(command, workflowParams{
		jobID: "job", image: "mosaic:latest", cpu: "2", memory: "4G", scratch: "20G", retries: 3,
	})
	require.NoError(t, err)
	yb, err := yaml.Marshal(wf)
	require.NoError(t, err)

	var back wfv1.Workflow
	require.NoError(t, yaml.Unmarshal(yb, &back))
	assert.Equal(t, "Workflow", back.Kind)
	assert.Equal(t, "job", back.Labels["mosaic/job-id"])
	require.Len(t, back.Spec.Templates, 1)
	require.Len(t, back.Spec.Templates[0].Steps, 1)
	step := back.Spec.Templates[0].Steps[0].Steps[0]
	assert.Equal(t, "merge", step.Name)
	assert.Equal(t, command, step.Inline.Container.Command)
	assert.Equal(t, "mosaic:latest", step.Inline.Container.Image)
	assert.Equal(t, int32(3), step.Inline.RetryStrategy.Limit.IntVal)

	_, err = mergeWorkflow(command, workflowParams{cpu: "lots", memory: "4G", scratch: "1G"})
	assert.Error(t, err)
}

func TestWorkflowShell(t *testing.T) {
	cmd := newMosaicCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"workflow", "--shell", "--", "-o", "out.tif", "a b.tif"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "mosaic merge -o out.tif 'a b.tif'\n", out.String())
}

func TestMergeCommand(t *testing.T) {
	dir := t.TempDir()
	tiles := filepath.Join(dir, "tiles")
	require.NoError(t, os.Mkdir(tiles, 0o755))
	for i, name := range []string{"a.tif", "b.tif"} {
		ds, err := gdalraster.Opener{}.Create(filepath.Join(tiles, name), 10, 10, 1, mosaic.Byte, nil)
		require.NoError(t, err)
		require.NoError(t, ds.SetGeoTransform(mosaic.GeoTransform{float64(10 * i), 1, 0, 10, 0, -1}))
		b, err := ds.Band(1)
		require.NoError(t, err)
		require.NoError(t, b.Fill(float64(i+1)))
		require.NoError(t, ds.Close())
	}
	out := filepath.Join(dir, "out.tif")
	optfile := filepath.Join(dir, "opts")
	require.NoError(t, os.WriteFile(optfile, []byte("--init 9\n"), 0o644))

	cmd := newMosaicCommand()
	var stderr bytes.Buffer
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"merge", "-o", out, "--optfile", optfile, tiles})
	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasSuffix(stderr.String(), "100 - done.\n"))

	ds, err := gdalraster.Opener{}.OpenRead(out)
	require.NoError(t, err)
	defer ds.Close()
	w, h := ds.Size()
	assert.Equal(t, 20, w)
	assert.Equal(t, 10, h)
	b, err := ds.Band(1)
	require.NoError(t, err)
	row, err := b.Read(mosaic.Window{XOff: 8, YOff: 0, XSize: 4, YSize: 1}, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 2, 2}, row)
}
