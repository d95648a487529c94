package dicom

// Well-known UIDs the engine needs to negotiate and reply.
const (
	uidApplicationContext     = "1.2.840.10008.3.1.1.1"
	uidImplicitVRLittleEndian = "1.2.840.10008.1.2"
	uidExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	uidVerification           = "1.2.840.10008.1.1"
	uidCTImageStorage         = "1.2.840.10008.5.1.4.1.1.2"
)

// The engine masquerades as a stock pynetdicom-based archive; real
// scanners fingerprint these values.
const (
	implementationClassUID    = "1.2.826.0.1.3680043.9.3811.2.0.3"
	implementationVersionName = "PYNETDICOM_203"
)
