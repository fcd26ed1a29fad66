package model

// Student is an examinee known to the sandbox server.
type Student struct {
	ID           int    `json:"id"`
	NISN         string `json:"nisn"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"`
}

// StudentLoginRequest is the payload for student login.
type StudentLoginRequest struct {
	NISN     string `json:"nisn" binding:"required,min=4,max=20" validate:"required,min=4,max=20"`
	Password string `json:"password" binding:"required,min=4,max=128" validate:"required,min=4,max=128"`
}

// StudentLoginResponse is returned after a successful student login.
type StudentLoginResponse struct {
	Token   string  `json:"token"`
	Student Student `json:"student"`
}
