package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseHDDConf(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mfshdd.cfg")
	content := "# comment\n\n/mnt/disk1\n*/mnt/disk2\n/mnt/disk3|1048576\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	folders, err := ParseHDDConf(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(folders) != 3 {
		t.Fatalf("want 3 folders, got %d", len(folders))
	}
	if folders[0].Path != "/mnt/disk1" || folders[0].ToDelete {
		t.Fatalf("unexpected folder 0: %+v", folders[0])
	}
	if folders[1].Path != "/mnt/disk2" || !folders[1].ToDelete {
		t.Fatalf("unexpected folder 1: %+v", folders[1])
	}
	if folders[2].Path != "/mnt/disk3" || folders[2].LeaveFree != 1048576 {
		t.Fatalf("unexpected folder 2: %+v", folders[2])
	}
}

func TestParseHDDConfMissingFileIsEmpty(t *testing.T) {
	folders, err := ParseHDDConf("/nonexistent/path/mfshdd.cfg")
	if err != nil {
		t.Fatal(err)
	}
	if folders != nil {
		t.Fatalf("want nil folders for missing file, got %v", folders)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	os.Unsetenv("CSSERV_LISTEN_PORT")
	os.Setenv("HDD_CONF_FILENAME", "/nonexistent/path/mfshdd.cfg")
	defer os.Unsetenv("HDD_CONF_FILENAME")

	c, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if c.ListenPort != 9422 {
		t.Fatalf("want default port 9422, got %d", c.ListenPort)
	}
	if c.AdminListenPort != 9425 {
		t.Fatalf("want default admin port 9425, got %d", c.AdminListenPort)
	}
}
