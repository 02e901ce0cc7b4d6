// Package llama runs GGUF models through llama.cpp, loaded at runtime with
// github.com/hybridgroup/yzma. The binding is compiled in with -tags yzma;
// other builds get a stub whose Open reports the model as unavailable.
package llama
