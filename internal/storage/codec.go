package storage

import (
	"encoding/json"
	"errors"
	"sort"

	"ensembleda/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion is the version stamp written on new records.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeGenerationDiagnostics(diagnostics []model.GenerationDiagnostics) ([]byte, error) {
	return json.Marshal(diagnostics)
}

func DecodeGenerationDiagnostics(data []byte) ([]model.GenerationDiagnostics, error) {
	var diagnostics []model.GenerationDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, err
	}
	return diagnostics, nil
}

func EncodeStructures(structures []model.StructureSnapshot) ([]byte, error) {
	return json.Marshal(structures)
}

func DecodeStructures(data []byte) ([]model.StructureSnapshot, error) {
	var structures []model.StructureSnapshot
	if err := json.Unmarshal(data, &structures); err != nil {
		return nil, err
	}
	return structures, nil
}

func EncodeBest(best []model.BestRecord) ([]byte, error) {
	return json.Marshal(best)
}

func DecodeBest(data []byte) ([]model.BestRecord, error) {
	var best []model.BestRecord
	if err := json.Unmarshal(data, &best); err != nil {
		return nil, err
	}
	for _, record := range best {
		if err := checkVersion(record.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return best, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

// sortRuns orders runs newest first, then by id.
func sortRuns(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC == runs[j].CreatedAtUTC {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC
	})
}
