package util

import (
	"testing"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		expected string
	}{
		// Bytes
		{"Zero bytes", 0, "0 B"},
		{"Single byte", 1, "1 B"},
		{"Small bytes", 512, "512 B"},
		{"Max bytes", 1023, "1023 B"},

		// Kilobytes
		{"Exact 1 KB", 1024, "1 KB"},
		{"1.5 KB", 1536, "1.5 KB"},
		{"1.25 KB", 1280, "1.25 KB"},
		{"1.125 KB", 1152, "1.125 KB"},
		{"10 KB", 10240, "10 KB"},
		{"Max KB", 1048575, "1023.999 KB"},

		// Megabytes
		{"Exact 1 MB", 1048576, "1 MB"},
		{"1.5 MB", 1572864, "1.5 MB"},
		{"2.25 MB", 2359296, "2.25 MB"},
		{"100 MB", 104857600, "100 MB"},

		// Gigabytes
		{"Exact 1 GB", 1073741824, "1 GB"},
		{"1.5 GB", 1610612736, "1.5 GB"},
		{"2.75 GB", 2952790016, "2.75 GB"},

		// Terabytes
		{"Exact 1 TB", 1099511627776, "1 TB"},
		{"1.5 TB", 1649267441664, "1.5 TB"},

		// Petabytes
		{"Exact 1 PB", 1125899906842624, "1 PB"},

		// Edge cases
		{"Very large number", 9223372036854775807, "8191.999 PB"}, // Max int64
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatSize(tt.size)
			if result != tt.expected {
				t.Errorf("FormatSize(%d) = %s, expected %s", tt.size, result, tt.expected)
			}
		})
	}
}

func TestFormatSizeDecimalPrecision(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		expected string
	}{
		{"Remainder below precision", 1025, "1 KB"}, // truncates, no ".000"
		{"1.009 KB", 1034, "1.009 KB"},
		{"1.099 KB", 1126, "1.099 KB"},
		{"Exact value has no decimals", 1024, "1 KB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatSize(tt.size)
			if result != tt.expected {
				t.Errorf("FormatSize(%d) = %s, expected %s", tt.size, result, tt.expected)
			}
		})
	}
}

func BenchmarkFormatSize(b *testing.B) {
	sizes := []int64{
		0,
		1024,
		1048576,
		1073741824,
		1099511627776,
	}

	for _, size := range sizes {
		b.Run(FormatSize(size), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				FormatSize(size)
			}
		})
	}
}