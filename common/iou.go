package common

// IoUMatrix is a dense row-major (rows, cols) matrix of pairwise IoU values,
// rows being anchors or regions and cols ground-truth boxes.
type IoUMatrix struct {
	Rows, Cols int
	Data       []float32

	masked []bool
}

// NewIoUMatrix allocates a zeroed matrix.
func NewIoUMatrix(rows, cols int) *IoUMatrix {
	return &IoUMatrix{
		Rows:   rows,
		Cols:   cols,
		Data:   make([]float32, rows*cols),
		masked: make([]bool, rows),
	}
}

// PairwiseIoU computes IoU(rows[i], cols[j]) for every pair.
//
// Arguments:
//   - rows: Anchors or regions, one matrix row each.
//   - cols: Ground-truth boxes, one matrix column each.
//
// Returns:
//   - *IoUMatrix: The (len(rows), len(cols)) IoU matrix.
func PairwiseIoU(rows, cols []Box) *IoUMatrix {
	m := NewIoUMatrix(len(rows), len(cols))
	for i, r := range rows {
		off := i * m.Cols
		for j, c := range cols {
			m.Data[off+j] = r.IoU(c)
		}
	}
	return m
}

// At returns the value at (i, j).
func (m *IoUMatrix) At(i, j int) float32 { return m.Data[i*m.Cols+j] }

// Set writes the value at (i, j).
func (m *IoUMatrix) Set(i, j int, v float32) { m.Data[i*m.Cols+j] = v }

// Row returns a view of row i.
func (m *IoUMatrix) Row(i int) []float32 { return m.Data[i*m.Cols : (i+1)*m.Cols] }

// MaskRows forces the given rows to -1 so they can never be matched or sampled.
func (m *IoUMatrix) MaskRows(rows []int) {
	for _, i := range rows {
		m.masked[i] = true
		row := m.Row(i)
		for j := range row {
			row[j] = -1
		}
	}
}

// Masked reports whether row i was masked.
func (m *IoUMatrix) Masked(i int) bool { return m.masked[i] }

// RowMax returns the maximum of row i and the first column holding it.
//
// A masked row reports (-1, -1). A row with no columns (no ground truth) reports
// (0, -1): it overlaps nothing.
func (m *IoUMatrix) RowMax(i int) (float32, int) {
	if m.masked[i] {
		return -1, -1
	}
	if m.Cols == 0 {
		return 0, -1
	}
	row := m.Row(i)
	best, arg := row[0], 0
	for j := 1; j < len(row); j++ {
		if row[j] > best {
			best, arg = row[j], j
		}
	}
	return best, arg
}
