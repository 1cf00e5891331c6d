//go:build noblas

package backend

func Has(name string) bool {
	return name == NoBLAS
}
