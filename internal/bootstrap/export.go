package bootstrap

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"ensembleda/internal/model"
)

// WriteVariable writes a variable snapshot in the bootstrap table format.
// Tables with probabilistic parents carry one column per parent; only tables
// with at most one parent column can be loaded back.
func WriteVariable(w io.Writer, snap model.VariableSnapshot) error {
	writer := csv.NewWriter(w)
	header := append(append([]string(nil), snap.Columns...), probabilityCol)
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, row := range snap.Rows {
		record := append(append([]string(nil), row.Values...), strconv.FormatFloat(row.Probability, 'g', -1, 64))
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ExportDir writes one CSV per variable of snap into dir.
func ExportDir(dir string, snap model.StructureSnapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, v := range snap.Variables {
		if err := writeVariableFile(filepath.Join(dir, v.Name+".csv"), v); err != nil {
			return fmt.Errorf("export %s: %w", v.Name, err)
		}
	}
	return nil
}

func writeVariableFile(path string, snap model.VariableSnapshot) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := WriteVariable(file, snap); err != nil {
		return err
	}
	return file.Sync()
}
