package utils

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCommandLine(t *testing.T) {
	data := struct {
		Port int
		Name string
	}{Port: 4001, Name: "api"}

	cmd, args, err := GetCommandLine("node", []string{"server.js", "--port={{.Port}}", " {{.Name}} "}, data)
	require.NoError(t, err)
	assert.Equal(t, "node", cmd)
	assert.Equal(t, []string{"server.js", "--port=4001", "api"}, args)

	_, _, err = GetCommandLine("x", []string{"{{.Missing}}"}, data)
	assert.Error(t, err)

	_, _, err = GetCommandLine("{{", nil, data)
	assert.Error(t, err)
}

func TestTailLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")

	var b strings.Builder
	for i := 0; i < 5000; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	lines, err := TailLines(path, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"line 4997", "line 4998", "line 4999"}, lines)

	short := filepath.Join(dir, "short.log")
	require.NoError(t, os.WriteFile(short, []byte("only\n"), 0o644))
	lines, err = TailLines(short, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, lines)

	empty := filepath.Join(dir, "empty.log")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	lines, err = TailLines(empty, 10)
	require.NoError(t, err)
	assert.Empty(t, lines)

	_, err = TailLines(filepath.Join(dir, "missing.log"), 1)
	assert.Error(t, err)
}

func TestPortChecks(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	assert.True(t, CheckPortConnectable(port))

	ln.Close()
	assert.True(t, WaitForPortFree(context.Background(), port, 2*time.Second))
	assert.False(t, CheckPortConnectable(port))
}

func TestIsProcessRunning(t *testing.T) {
	assert.True(t, IsProcessRunning(os.Getpid()))
	assert.False(t, IsProcessRunning(0))
	assert.False(t, IsProcessRunning(-1))
}

func TestPath2ProcessName(t *testing.T) {
	assert.Equal(t, "node", Path2ProcessName("/usr/local/bin/node"))
	assert.Equal(t, "app", Path2ProcessName("C:/tools/app.exe"))
	assert.Equal(t, "node", Path2ProcessName(`C:\Program Files\nodejs\node.EXE`))
	assert.Equal(t, "hugo", Path2ProcessName(" hugo "))
	assert.Equal(t, "", Path2ProcessName(""))
}
