// Package linux discovers the running machine from sysfs and procfs.
//
// CPUs, packages, dies, cores and caches come from
// /sys/devices/system/cpu, NUMA nodes with their distances and memory
// performance (HMAT) from /sys/devices/system/node, PCI devices and their
// network, InfiniBand and DRM children from /sys/bus/pci/devices, and the
// allowed cpuset and nodeset from /proc/<pid>/status. Every read goes
// through an afero.Fs, so a test can discover a fabricated machine.
package linux
