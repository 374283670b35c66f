package sysproxy

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/windows/registry"

	"xrayclient/internal/storage/models"
)

const internetSettingsKey = `Software\Microsoft\Windows\CurrentVersion\Internet Settings`

const (
	internetOptionRefresh         = 37
	internetOptionSettingsChanged = 39
)

func proxyServer(http, socks models.Endpoint) string {
	return fmt.Sprintf("http=%s;https=%s;socks=%s", hostPort(http), hostPort(http), hostPort(socks))
}

func (s *System) enable(http, socks models.Endpoint) error {
	key, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsKey, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer key.Close()

	if err := key.SetStringValue("ProxyServer", proxyServer(http, socks)); err != nil {
		return err
	}
	if err := key.SetStringValue("ProxyOverride", "localhost;127.*;10.*;172.16.*;192.168.*;<local>"); err != nil {
		return err
	}
	if err := key.SetDWordValue("ProxyEnable", 1); err != nil {
		return err
	}
	notifySettingsChanged()
	return nil
}

func (s *System) disable() error {
	key, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsKey, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer key.Close()

	if err := key.SetDWordValue("ProxyEnable", 0); err != nil {
		return err
	}
	notifySettingsChanged()
	return nil
}

// notifySettingsChanged makes running browsers reload the proxy settings.
func notifySettingsChanged() {
	wininet := syscall.NewLazyDLL("wininet.dll")
	setOption := wininet.NewProc("InternetSetOptionW")
	setOption.Call(0, internetOptionSettingsChanged, 0, 0)
	setOption.Call(0, internetOptionRefresh, 0, 0)
}
