// Package jartype holds the types shared by the archive reader, the layer
// classifier, and the extraction engine.
package jartype
