package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/siddharth-mourya/powerlytic-be/internal/domain"
)

const catalogYAML = `version: "1.0"
devices:
  - id: dev-001
    external_id: CFG-AA11
    name: Main Meter
    model: EM-300
    organization_id: org-001
    ports:
      - key: AI_1
        type: ANALOG
        unit: bar
        calibration:
          scaling: 0.5
          offset: 2
      - key: MI_1
        type: MODBUS
        calibration:
          scaling: 1
        slaves:
          - id: "1"
            baud_rate: 9600
            reads:
              - id: read-energy
                name: Energy
                function_code: 3
                start_address: 100
                bits_to_read: 16
                calibration:
                  scaling: 2
                  offset: 1
  - id: dev-002
    name: Pump Sensor
    organization_id: org-001
    ports:
      - key: DI_1
        type: DIGITAL
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func TestLoadCatalog(t *testing.T) {
	r, err := Load(writeCatalog(t, catalogYAML), zerolog.Nop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	devices := r.List()
	if len(devices) != 2 {
		t.Fatalf("List() returned %d devices, want 2", len(devices))
	}
	if devices[0].ID != "dev-001" || devices[1].ID != "dev-002" {
		t.Errorf("List() order = [%s, %s], want sorted by ID", devices[0].ID, devices[1].ID)
	}

	d := devices[0]
	port, ok := d.Port("MI_1")
	if !ok {
		t.Fatal("device dev-001 missing port MI_1")
	}
	slave, ok := port.Slave("1")
	if !ok {
		t.Fatal("port MI_1 missing slave 1")
	}
	if len(slave.Reads) != 1 || slave.Reads[0].ID != "read-energy" {
		t.Errorf("slave reads = %+v, want single read-energy", slave.Reads)
	}
	if slave.Reads[0].Calibration.Scaling != 2 {
		t.Errorf("read calibration scaling = %v, want 2", slave.Reads[0].Calibration.Scaling)
	}
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := len(r.List()); got != 0 {
		t.Errorf("List() returned %d devices, want 0", got)
	}
}

func TestLoadRejectsInvalidDevice(t *testing.T) {
	bad := `devices:
  - id: dev-001
    name: Broken
    ports:
      - key: DI_1
        type: DIGITAL
      - key: DI_1
        type: DIGITAL
`
	if _, err := Load(writeCatalog(t, bad), zerolog.Nop()); !errors.Is(err, domain.ErrDuplicatePortKey) {
		t.Errorf("Load() error = %v, want ErrDuplicatePortKey", err)
	}
}

func TestResolveByEitherIdentifier(t *testing.T) {
	r, err := Load(writeCatalog(t, catalogYAML), zerolog.Nop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	ctx := context.Background()

	for _, identifier := range []string{"dev-001", "CFG-AA11"} {
		d, err := r.Resolve(ctx, identifier)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", identifier, err)
		}
		if d.ID != "dev-001" {
			t.Errorf("Resolve(%q) = %s, want dev-001", identifier, d.ID)
		}
	}

	if _, err := r.Resolve(ctx, "nope"); !errors.Is(err, domain.ErrDeviceNotFound) {
		t.Errorf("Resolve(nope) error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := r.Resolve(ctx, ""); !errors.Is(err, domain.ErrDeviceIdentifierRequired) {
		t.Errorf("Resolve(\"\") error = %v, want ErrDeviceIdentifierRequired", err)
	}
}

func TestResolveReturnsIsolatedCopy(t *testing.T) {
	r, err := Load(writeCatalog(t, catalogYAML), zerolog.Nop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	d, err := r.Resolve(context.Background(), "dev-001")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	port, _ := d.Port("AI_1")
	port.Calibration.Scaling = 999

	again, err := r.Resolve(context.Background(), "dev-001")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	port2, _ := again.Port("AI_1")
	if port2.Calibration.Scaling != 0.5 {
		t.Errorf("registry copy mutated through resolved device: scaling = %v", port2.Calibration.Scaling)
	}
}

func TestAddAndDelete(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "devices.yaml"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	device := &domain.Device{
		ID:             "dev-010",
		Name:           "New Meter",
		OrganizationID: "org-002",
		Ports:          []domain.Port{{Key: "AI_1", Type: domain.PortTypeAnalog}},
	}
	if err := r.Add(device); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := r.Add(device); !errors.Is(err, domain.ErrDeviceExists) {
		t.Errorf("Add() duplicate error = %v, want ErrDeviceExists", err)
	}

	if err := r.Delete("dev-010"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := r.Delete("dev-010"); !errors.Is(err, domain.ErrDeviceNotFound) {
		t.Errorf("Delete() missing error = %v, want ErrDeviceNotFound", err)
	}
}

func TestUpdatePortMutableAttributes(t *testing.T) {
	r, err := Load(writeCatalog(t, catalogYAML), zerolog.Nop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	unit := "psi"
	minV := 1.5
	updated, err := r.UpdatePort("dev-001", "AI_1", PortUpdate{
		Unit:        &unit,
		Calibration: &domain.Calibration{Scaling: 2, Offset: -1},
		Thresholds:  &domain.Thresholds{Min: &minV, Message: "pressure low"},
	})
	if err != nil {
		t.Fatalf("UpdatePort() error = %v", err)
	}

	port, _ := updated.Port("AI_1")
	if port.Unit != "psi" {
		t.Errorf("unit = %q, want psi", port.Unit)
	}
	if port.Calibration.Scaling != 2 || port.Calibration.Offset != -1 {
		t.Errorf("calibration = %+v, want {2 -1}", port.Calibration)
	}
	if port.Thresholds == nil || port.Thresholds.Min == nil || *port.Thresholds.Min != 1.5 {
		t.Errorf("thresholds = %+v, want min 1.5", port.Thresholds)
	}
	if port.Key != "AI_1" || port.Type != domain.PortTypeAnalog {
		t.Errorf("immutable attributes changed: key=%q type=%q", port.Key, port.Type)
	}
}

func TestUpdatePortErrors(t *testing.T) {
	r, err := Load(writeCatalog(t, catalogYAML), zerolog.Nop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, err := r.UpdatePort("dev-404", "AI_1", PortUpdate{}); !errors.Is(err, domain.ErrDeviceNotFound) {
		t.Errorf("unknown device error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := r.UpdatePort("dev-001", "XX_9", PortUpdate{}); !errors.Is(err, domain.ErrPortNotFound) {
		t.Errorf("unknown port error = %v, want ErrPortNotFound", err)
	}
	slaves := []domain.Slave{{ID: "2"}}
	if _, err := r.UpdatePort("dev-001", "AI_1", PortUpdate{Slaves: slaves}); !errors.Is(err, domain.ErrSlavesOnNonModbusPort) {
		t.Errorf("slaves on analog port error = %v, want ErrSlavesOnNonModbusPort", err)
	}
}

func TestUpdatePortRejectedLeavesCatalogUntouched(t *testing.T) {
	r, err := Load(writeCatalog(t, catalogYAML), zerolog.Nop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	unit := "kWh"

	// The slave list fails validation, so the unit copied before it
	// must not survive either.
	_, err = r.UpdatePort("dev-001", "MI_1", PortUpdate{
		Unit:   &unit,
		Slaves: []domain.Slave{{ID: ""}},
	})
	if !errors.Is(err, domain.ErrSlaveIDRequired) {
		t.Fatalf("UpdatePort() error = %v, want ErrSlaveIDRequired", err)
	}

	d, err := r.Resolve(context.Background(), "dev-001")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	port, _ := d.Port("MI_1")
	if port.Unit != "" {
		t.Errorf("unit after rejected update = %q, want unchanged", port.Unit)
	}
	if len(port.Slaves) != 1 || port.Slaves[0].ID != "1" {
		t.Errorf("slaves after rejected update = %+v, want original slave 1", port.Slaves)
	}

	_, err = r.UpdatePort("dev-001", "AI_1", PortUpdate{
		Unit:   &unit,
		Slaves: []domain.Slave{{ID: "2"}},
	})
	if !errors.Is(err, domain.ErrSlavesOnNonModbusPort) {
		t.Fatalf("UpdatePort() error = %v, want ErrSlavesOnNonModbusPort", err)
	}
	d, _ = r.Get("dev-001")
	if port, _ := d.Port("AI_1"); port.Unit != "bar" {
		t.Errorf("unit after rejected update = %q, want bar", port.Unit)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := writeCatalog(t, catalogYAML)
	r, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	unit := "psi"
	if _, err := r.UpdatePort("dev-001", "AI_1", PortUpdate{Unit: &unit}); err != nil {
		t.Fatalf("UpdatePort() error = %v", err)
	}
	if err := r.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	d, err := reloaded.Get("dev-001")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	port, _ := d.Port("AI_1")
	if port.Unit != "psi" {
		t.Errorf("persisted unit = %q, want psi", port.Unit)
	}
}

func TestHealthCheck(t *testing.T) {
	r, err := Load(writeCatalog(t, catalogYAML), zerolog.Nop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := r.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
