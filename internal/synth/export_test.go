package synth

// ValidateCitations exposes validateCitations to the external test package.
var ValidateCitations = validateCitations
