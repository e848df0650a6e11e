package netiface

import (
	"testing"

	"lanxfer/internal/models"
)

func TestCategorizeMatchesNamePrefixes(t *testing.T) {
	cases := map[string]string{
		"tailscale0": "VPN",
		"tun0":       "VPN",
		"wlan0":      "WiFi",
		"eth0":       "Ethernet",
		"en0":        "Ethernet",
		"docker0":    "Docker",
		"br-abcdef":  "Docker",
		"lo":         "Other",
		"weird9":     "Other",
	}
	for name, want := range cases {
		if got := categorize(name); string(got) != want {
			t.Errorf("categorize(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestListReturnsAtLeastLoopback(t *testing.T) {
	ifaces, err := List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	found := false
	for _, i := range ifaces {
		if i.IsLoopback {
			found = true
		}
	}
	if !found {
		t.Error("expected at least one loopback address among local interfaces")
	}
}

func TestFilterHidesDockerByDefault(t *testing.T) {
	ifaces := []models.NetworkInterface{
		{Name: "wlan0", Category: models.CategoryWiFi},
		{Name: "docker0", Category: models.CategoryDocker},
	}
	got := Filter(ifaces, models.DefaultInterfaceFilters())
	if len(got) != 1 || got[0].Category != models.CategoryWiFi {
		t.Errorf("Filter with defaults = %+v, want only the WiFi entry", got)
	}
}

func TestFilterShowsDockerWhenEnabled(t *testing.T) {
	ifaces := []models.NetworkInterface{
		{Name: "docker0", Category: models.CategoryDocker},
	}
	filters := models.InterfaceFilters{ShowDocker: true}
	got := Filter(ifaces, filters)
	if len(got) != 1 {
		t.Errorf("Filter with ShowDocker=true = %+v, want the Docker entry kept", got)
	}
}
