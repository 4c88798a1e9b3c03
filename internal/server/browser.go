package server

import (
	"fmt"
	"net"
	"os/exec"
	"runtime"

	"github.com/conneroisu/tramline/internal/validation"
)

// browserCommand returns the command that opens url in the desktop's
// default browser.
func browserCommand(goos, url string) (*exec.Cmd, error) {
	switch goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		return exec.Command("xdg-open", url), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url), nil
	case "darwin":
		return exec.Command("open", url), nil
	default:
		return nil, fmt.Errorf("unsupported platform %s", goos)
	}
}

// openBrowser launches the browser without waiting for it.
func openBrowser(url string) error {
	// Validate URL for security before passing to system commands
	if err := validation.ValidateURL(url); err != nil {
		return err
	}
	cmd, err := browserCommand(runtime.GOOS, url)
	if err != nil {
		return err
	}
	return cmd.Start()
}

// browserURL is the address a local browser should load: wildcard listen
// addresses are replaced by localhost.
func browserURL(addr net.Addr, basePath string) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String() + basePath
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + basePath
}
