package pipeline

import (
	"context"
	"testing"
)

func testConfig(datasourceID string) *Config {
	cfg := &Config{
		DatasourceID: datasourceID,
		Metadata:     Metadata{DisplayName: "test pipeline"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestMemoryRepositoryCreate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, testConfig("ds1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Error("id not assigned")
	}
	if created.Transformation.Func != DefaultTransformationFunc {
		t.Errorf("default transformation not applied: %q", created.Transformation.Func)
	}

	got, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DatasourceID != "ds1" {
		t.Errorf("datasource = %q", got.DatasourceID)
	}
}

func TestMemoryRepositoryGetByDatasource(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for _, ds := range []string{"ds1", "ds1", "ds2"} {
		if _, err := repo.Create(ctx, testConfig(ds)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	matched, err := repo.GetByDatasource(ctx, "ds1")
	if err != nil {
		t.Fatalf("GetByDatasource: %v", err)
	}
	if len(matched) != 2 {
		t.Errorf("got %d configs, want 2", len(matched))
	}
}

func TestMemoryRepositoryUpdate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	t.Run("missing id rejected", func(t *testing.T) {
		if err := repo.Update(ctx, "nope", testConfig("ds1")); err == nil {
			t.Error("update of unknown id accepted")
		}
	})

	created, err := repo.Create(ctx, testConfig("ds1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	t.Run("id is immutable", func(t *testing.T) {
		altered := testConfig("ds1")
		altered.ID = "different"
		if err := repo.Update(ctx, created.ID, altered); err == nil {
			t.Error("id change accepted")
		}
	})

	t.Run("replaces fields", func(t *testing.T) {
		updated := testConfig("ds2")
		updated.Transformation.Func = "return data.value;"
		if err := repo.Update(ctx, created.ID, updated); err != nil {
			t.Fatalf("Update: %v", err)
		}
		got, err := repo.Get(ctx, created.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Transformation.Func != "return data.value;" {
			t.Errorf("transformation = %q", got.Transformation.Func)
		}
		if got.ID != created.ID {
			t.Errorf("id changed to %q", got.ID)
		}
	})
}

func TestMemoryRepositoryDelete(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if err := repo.Delete(ctx, "nope"); err == nil {
		t.Error("delete of unknown id accepted")
	}

	created, err := repo.Create(ctx, testConfig("ds1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, created.ID); err == nil {
		t.Error("deleted config still readable")
	}
}
